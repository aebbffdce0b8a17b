// Package printer drives the thermal ticket printer. Kiosk ticket creation
// only commits after the printer accepted the job, so a dead printer never
// leaves orphaned tickets in the queue.
package printer

import (
	"context"
	"log"
	"net"
	"time"
)

type Printer interface {
	PrintTicket(ctx context.Context, displayLabel string) error
}

// New returns a TCP ESC/POS printer when addr is set ("host:port"), otherwise
// a log-only printer that always accepts.
func New(addr string, timeout time.Duration) Printer {
	if addr == "" {
		return logPrinter{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &escposPrinter{addr: addr, timeout: timeout}
}

type logPrinter struct{}

func (logPrinter) PrintTicket(ctx context.Context, displayLabel string) error {
	log.Printf("print ticket %s (no printer configured)", displayLabel)
	return nil
}

type escposPrinter struct {
	addr    string
	timeout time.Duration
}

func (p *escposPrinter) PrintTicket(ctx context.Context, displayLabel string) error {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(p.timeout))
	_, err = conn.Write(ticketCommands(displayLabel))
	return err
}

// ticketCommands renders the ESC/POS byte sequence: init, centered
// double-size label, "Aguarde ser chamado" footer, feed, cut.
func ticketCommands(displayLabel string) []byte {
	const (
		esc = 0x1b
		gs  = 0x1d
	)
	var out []byte
	out = append(out, esc, '@')
	out = append(out, esc, 'a', 0x01)
	out = append(out, '\n')
	out = append(out, esc, '!', 0x38)
	out = append(out, []byte("SENHA "+displayLabel+"\n")...)
	out = append(out, esc, '!', 0x00)
	out = append(out, esc, 'a', 0x01)
	out = append(out, "\n\n"...)
	out = append(out, []byte("Aguarde ser chamado\n")...)
	out = append(out, "\n\n\n\n\n\n"...)
	out = append(out, gs, 'V', 0x00)
	return out
}
