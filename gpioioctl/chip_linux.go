// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"periph.io/x/conn/v3/gpio"
)

// The consumer name to use for line requests. Initialized in init()
var consumer []byte

// kernelChip implements lineIO on a /dev/gpiochip* character device.
type kernelChip struct {
	path  string
	name  string
	label string
	lines int

	mu  sync.Mutex
	fd  int
	fds []int // line request fd per offset, -1 when not requested
}

// openChip opens the /dev/gpiochip* path specified and uses ioctl() calls
// to read information about the chip.
func openChip(p string) (lineIO, error) {
	fd, err := unix.Open(p, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("gpioioctl: opening %s: %w", p, err)
	}
	var info gpiochip_info
	if err := ioctl(fd, _GPIO_GET_CHIPINFO_IOCTL, unsafe.Pointer(&info)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("gpioioctl: %s: chip info: %w", p, err)
	}
	c := &kernelChip{
		path:  p,
		name:  strings.Trim(string(info.name[:]), "\x00"),
		label: strings.Trim(string(info.label[:]), "\x00"),
		lines: int(info.lines),
		fd:    fd,
		fds:   make([]int, info.lines),
	}
	if len(c.label) == 0 {
		c.label = c.name
	}
	for i := range c.fds {
		c.fds[i] = -1
	}
	return c, nil
}

func (c *kernelChip) Name() string {
	return c.name
}

func (c *kernelChip) Label() string {
	return c.label
}

func (c *kernelChip) Lines() int {
	return c.lines
}

func (c *kernelChip) SetConfig(offset int, flags uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fd := c.fds[offset]; fd != -1 {
		cfg := gpio_v2_line_config{flags: flags}
		if err := ioctl(fd, _GPIO_V2_LINE_SET_CONFIG_IOCTL, unsafe.Pointer(&cfg)); err != nil {
			return fmt.Errorf("gpioioctl: %s line %d: set config: %w", c.name, offset, err)
		}
		return nil
	}
	var req gpio_v2_line_request
	req.offsets[0] = uint32(offset)
	req.num_lines = 1
	copy(req.consumer[:], consumer)
	req.config.flags = flags
	if err := ioctl(c.fd, _GPIO_V2_GET_LINE_IOCTL, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("gpioioctl: %s line %d: line request: %w", c.name, offset, err)
	}
	c.fds[offset] = int(req.fd)
	return nil
}

func (c *kernelChip) Value(offset int) (gpio.Level, error) {
	fd, err := c.lineFD(offset)
	if err != nil {
		return gpio.Low, err
	}
	data := gpio_v2_line_values{mask: 1}
	if err := ioctl(fd, _GPIO_V2_LINE_GET_VALUES_IOCTL, unsafe.Pointer(&data)); err != nil {
		return gpio.Low, fmt.Errorf("gpioioctl: %s line %d: get values: %w", c.name, offset, err)
	}
	return data.bits&1 != 0, nil
}

func (c *kernelChip) SetValue(offset int, l gpio.Level) error {
	fd, err := c.lineFD(offset)
	if err != nil {
		return err
	}
	data := gpio_v2_line_values{mask: 1}
	if l {
		data.bits = 1
	}
	if err := ioctl(fd, _GPIO_V2_LINE_SET_VALUES_IOCTL, unsafe.Pointer(&data)); err != nil {
		return fmt.Errorf("gpioioctl: %s line %d: set values: %w", c.name, offset, err)
	}
	return nil
}

func (c *kernelChip) WaitEvent(offset int, timeout time.Duration) (gpio.Level, bool, error) {
	fd, err := c.lineFD(offset)
	if err != nil {
		return gpio.Low, false, err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err == unix.EINTR || n == 0 {
		return gpio.Low, false, nil
	}
	if err != nil {
		return gpio.Low, false, fmt.Errorf("gpioioctl: %s line %d: poll: %w", c.name, offset, err)
	}
	buf := make([]byte, sizeofLineEvent)
	if _, err := unix.Read(fd, buf); err != nil {
		return gpio.Low, false, fmt.Errorf("gpioioctl: %s line %d: read event: %w", c.name, offset, err)
	}
	// The id field follows the 64 bits timestamp.
	id := binary.LittleEndian.Uint32(buf[8:])
	return id == _GPIO_V2_LINE_EVENT_RISING_EDGE, true, nil
}

func (c *kernelChip) Release(offset int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fd := c.fds[offset]
	if fd == -1 {
		return nil
	}
	c.fds[offset] = -1
	return unix.Close(fd)
}

// Close closes the file descriptor associated with the chip, along with
// every requested line.
func (c *kernelChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, fd := range c.fds {
		if fd != -1 {
			_ = unix.Close(fd)
			c.fds[i] = -1
		}
	}
	return unix.Close(c.fd)
}

func (c *kernelChip) lineFD(offset int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fd := c.fds[offset]
	if fd == -1 {
		return -1, fmt.Errorf("gpioioctl: %s line %d is not requested", c.name, offset)
	}
	return fd, nil
}

func init() {
	// Init our consumer name. It's used when a line is requested, and
	// allows utility programs like gpioinfo to find out who has a line
	// open.
	s := fmt.Sprintf("%s@%d", path.Base(os.Args[0]), os.Getpid())
	charBytes := []byte(s)
	if len(charBytes) >= _GPIO_MAX_NAME_SIZE {
		charBytes = charBytes[:_GPIO_MAX_NAME_SIZE-1]
	}
	consumer = charBytes
}
