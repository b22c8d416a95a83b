package password

import "testing"

const benchPassword = "correct horse battery staple"

func benchConfigs() map[string]Config {
	return map[string]Config{
		"default": DefaultConfig(),
		"test":    testConfig(),
	}
}

func BenchmarkHash(b *testing.B) {
	for name, cfg := range benchConfigs() {
		b.Run(name, func(b *testing.B) {
			for b.Loop() {
				if _, err := cfg.Hash(benchPassword); err != nil {
					b.Fatalf("Hash error: %v", err)
				}
			}
		})
	}
}

// BenchmarkVerify is the per-login cost, including the dummy verify for
// unknown users.
func BenchmarkVerify(b *testing.B) {
	for name, cfg := range benchConfigs() {
		h, err := cfg.Hash(benchPassword)
		if err != nil {
			b.Fatalf("Hash error: %v", err)
		}
		b.Run(name, func(b *testing.B) {
			for b.Loop() {
				if ok, err := cfg.Verify(h, benchPassword); err != nil || !ok {
					b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
				}
			}
		})
	}
}
