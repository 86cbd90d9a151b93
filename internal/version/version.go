// Package version хранит данные сборки, проставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/shipping/internal/version.version=v1.0.0
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает хеш коммита сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("shipping-service version=%s commit=%s date=%s", version, commit, date)
}
