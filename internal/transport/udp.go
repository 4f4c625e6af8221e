package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// maxDatagram bounds a single received frame. Sealed gossip messages stay
// well under this: payloads are capped at 4 KiB and range responses are
// entry-count limited by the engine.
const maxDatagram = 64 * 1024

// UDPAdapter is an Adapter over plain UDP datagrams. UDP's native
// semantics (drops, reordering, duplication) are exactly the best-effort
// contract the gossip engine is written against, which makes it the
// simplest real-network adapter. Anonymising tunnel transports implement
// the same interface in front of their own framing.
type UDPAdapter struct {
	conn *net.UDPConn
}

// ListenUDP binds an adapter to a local address like "127.0.0.1:26680".
func ListenUDP(address string) (*UDPAdapter, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", address, err)
	}
	return &UDPAdapter{conn: conn}, nil
}

// LocalAddress returns the bound address, useful when listening on an
// ephemeral port.
func (a *UDPAdapter) LocalAddress() string {
	return a.conn.LocalAddr().String()
}

func (a *UDPAdapter) Send(ctx context.Context, address string, frame []byte) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil // unresolvable peer: best-effort transport drops silently
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = a.conn.SetWriteDeadline(deadline)
	}
	_, err = a.conn.WriteToUDP(frame, addr)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", address, err)
	}
	return nil
}

func (a *UDPAdapter) Receive(ctx context.Context) (string, []byte, error) {
	// Unblock the read when ctx is cancelled by expiring the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = a.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagram)
	n, addr, err := a.conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, fmt.Errorf("transport: receive: %w", err)
	}
	frame := make([]byte, n)
	copy(frame, buf[:n])
	return addr.String(), frame, nil
}

func (a *UDPAdapter) Close() error {
	return a.conn.Close()
}
