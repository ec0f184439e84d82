//go:build rp2040 || rp2350

package bridge

import (
	"context"
	"io"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

func init() {
	UARTDial = dialUART
}

func dialUART(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error) {
	hw := uartx.UART0
	if u.Port == 1 {
		hw = uartx.UART1
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(u.Baud),
		TX:       machine.Pin(u.TxPin),
		RX:       machine.Pin(u.RxPin),
	}); err != nil {
		return nil, err
	}
	return &uartLink{u: hw}, nil
}

// uartLink adapts uartx to io.ReadWriteCloser. Reads block until at least
// one byte arrives; the framing layer calls io.ReadFull on top. The UART
// instances are global, so Close leaves the peripheral configured.
type uartLink struct{ u *uartx.UART }

func (l *uartLink) Write(p []byte) (int, error) { return l.u.Write(p) }

func (l *uartLink) Read(p []byte) (int, error) {
	return l.u.RecvSomeContext(context.Background(), p)
}

func (l *uartLink) Close() error { return nil }
