package udp

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	DSCPAF41 = 34 // video
	DSCPEF   = 46 // audio
)

// SetDSCP marks outgoing datagrams on conn with the given DSCP code point.
func SetDSCP(conn *net.UDPConn, dscp int) error {
	if dscp < 0 || dscp > 63 {
		return fmt.Errorf("dscp %d out of range", dscp)
	}
	tos := dscp << 2

	err4 := ipv4.NewConn(conn).SetTOS(tos)
	if err4 == nil {
		if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() != nil {
			return nil
		}
	}
	err6 := ipv6.NewConn(conn).SetTrafficClass(tos)
	if err4 == nil || err6 == nil {
		return nil
	}
	return errors.Join(err4, err6)
}
