// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build windows

package oodle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/elliotnunn/brickvault/internal/codec"
	"golang.org/x/sys/windows"
)

var (
	loadOnce sync.Once
	loadErr  error
	proc     *windows.Proc
)

// load looks beside the executable first, then along the DLL search path.
func load() error {
	loadOnce.Do(func() {
		candidates := []string{dllName}
		if exe, err := os.Executable(); err == nil {
			candidates = append([]string{filepath.Join(filepath.Dir(exe), dllName)}, candidates...)
		}
		var dll *windows.DLL
		for _, c := range candidates {
			dll, loadErr = windows.LoadDLL(c)
			if loadErr == nil {
				break
			}
		}
		if loadErr != nil {
			loadErr = fmt.Errorf("%s: %v: %w", dllName, loadErr, codec.ErrUnavailable)
			return
		}
		proc, loadErr = dll.FindProc("OodleLZ_Decompress")
		if loadErr != nil {
			loadErr = fmt.Errorf("%s: %v: %w", dllName, loadErr, codec.ErrUnavailable)
		}
	})
	return loadErr
}

func decompress(in, out []byte) (int, error) {
	r, _, _ := proc.Call(
		uintptr(unsafe.Pointer(&in[0])), uintptr(len(in)),
		uintptr(unsafe.Pointer(&out[0])), uintptr(len(out)),
		0, 0, 0, 0, 0, 0, 0, 0, 0, 3, // no fuzz safety, no CRC, no callbacks, thread phase all
	)
	return int(int64(r)), nil
}
