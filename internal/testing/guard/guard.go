package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("IZISALES_TEST_MODE") == "" {
			_ = os.Setenv("IZISALES_TEST_MODE", "1")
		}
	})
}
