package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// MaxSerialFrameSize bounds a single newline-delimited frame.
const MaxSerialFrameSize = 64 * 1024

// SerialConfig configures the serial dialer.
type SerialConfig struct {
	// DataBits per character (default 8)
	DataBits int
	// Parity (default none)
	Parity serial.Parity
	// StopBits (default one)
	StopBits serial.StopBits
}

// OpenFunc opens a serial device. It matches serial.Open.
type OpenFunc func(portName string, mode *serial.Mode) (serial.Port, error)

// SerialDialer opens SerialLink connections. Frames are newline-delimited JSON.
type SerialDialer struct {
	config *SerialConfig
	open   OpenFunc
	logger *zap.Logger
}

// NewSerialDialer creates a dialer; a nil config uses 8N1.
func NewSerialDialer(config *SerialConfig, logger *zap.Logger) *SerialDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := SerialConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}

	return &SerialDialer{
		config: &cfg,
		open:   serial.Open,
		logger: logger.With(zap.String("component", "serial_transport")),
	}
}

// Dial opens cfg.SerialPort at cfg.BaudRate.
func (d *SerialDialer) Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRateOrDefault(),
		DataBits: d.config.DataBits,
		Parity:   d.config.Parity,
		StopBits: d.config.StopBits,
	}

	port, err := d.open(cfg.SerialPort, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.SerialPort, err)
	}

	d.logger.Info("Serial port opened",
		zap.String("port", cfg.SerialPort),
		zap.Int("baud_rate", mode.BaudRate))

	return NewLineConn(port), nil
}

// NewLineConn frames an arbitrary byte stream as newline-delimited frames.
func NewLineConn(rwc io.ReadWriteCloser) Conn {
	scanner := bufio.NewScanner(rwc)
	scanner.Buffer(make([]byte, 4096), MaxSerialFrameSize)
	return &lineConn{rwc: rwc, scanner: scanner}
}

type lineConn struct {
	rwc       io.ReadWriteCloser
	scanner   *bufio.Scanner
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *lineConn) ReadFrame() ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *lineConn) WriteFrame(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("frame contains a newline")
	}

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rwc.Write(buf)
	return err
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
