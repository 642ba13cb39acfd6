//go:build !unix

package voicecache

import "syscall"

func detachAttr() *syscall.SysProcAttr {
	return nil
}
