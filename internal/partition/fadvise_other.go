//go:build !linux

package partition

import "os"

func adviseSequential(*os.File) {}
