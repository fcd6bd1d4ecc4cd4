package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrPickerCanceled = errors.New("device selection canceled")

type pickKey int

const (
	keyNone pickKey = iota
	keyUp
	keyDown
	keyEnter
	keyCancel
)

// decodeKey maps one raw terminal read to a picker action.
func decodeKey(b []byte) pickKey {
	switch {
	case len(b) == 1:
		switch b[0] {
		case '\r', '\n':
			return keyEnter
		case 3, 'q': // Ctrl+C
			return keyCancel
		case 'j':
			return keyDown
		case 'k':
			return keyUp
		}
	case len(b) == 3 && b[0] == 0x1b && b[1] == '[':
		switch b[2] {
		case 'A':
			return keyUp
		case 'B':
			return keyDown
		}
	}
	return keyNone
}

type picker struct {
	devices []DeviceInfo
	cursor  int
	out     io.Writer
}

func (p *picker) apply(k pickKey) {
	switch k {
	case keyUp:
		if p.cursor > 0 {
			p.cursor--
		}
	case keyDown:
		if p.cursor < len(p.devices)-1 {
			p.cursor++
		}
	}
}

func (p *picker) render(redraw bool) {
	if redraw {
		fmt.Fprintf(p.out, "\x1b[%dA", len(p.devices)+2)
	}
	fmt.Fprint(p.out, "\r\x1b[J")
	fmt.Fprint(p.out, "Select capture device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[⚠ narrowband headset profile]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(p.out, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(p.out, "    %s%s\r\n", d.Name, tag)
		}
	}
}

// SelectDevice lets the user choose a capture device from ctx on the
// terminal in. A single device is returned without prompting.
func SelectDevice(ctx Context, in *os.File, out io.Writer) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, ErrNoDevice
	case 1:
		return &devices[0], nil
	}

	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := &picker{devices: devices, out: out}
	p.render(false)

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch k := decodeKey(buf[:n]); k {
		case keyEnter:
			fmt.Fprint(out, "\r\n")
			return &devices[p.cursor], nil
		case keyCancel:
			fmt.Fprint(out, "\r\n")
			return nil, ErrPickerCanceled
		default:
			p.apply(k)
		}
		p.render(true)
	}
}
