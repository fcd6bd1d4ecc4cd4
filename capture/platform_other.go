//go:build !linux

package capture

func DefaultKind() Kind { return KindGraph }
