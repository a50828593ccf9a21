//go:build linux

package epoll

import (
	"fmt"
	"net"

	"github.com/ValentinKolb/echoloop/echo/common"
	"golang.org/x/sys/unix"
)

// --------------------------------------------------------------------------
// Listener socket setup
// --------------------------------------------------------------------------

// parseEndpoint resolves an endpoint string to an IPv4 sockaddr.
// An empty or wildcard host binds 0.0.0.0.
func parseEndpoint(endpoint string) (*unix.SockaddrInet4, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve endpoint %q: %v", endpoint, err)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if tcpAddr.IP != nil {
		ip4 := tcpAddr.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("endpoint %q is not an IPv4 address", endpoint)
		}
		copy(sa.Addr[:], ip4)
	}
	return sa, nil
}

// newListenerSocket creates a non-blocking IPv4 listening socket bound to the
// configured endpoint.
//
// SO_REUSEADDR is always set so the address can be rebound while old
// connections linger in TIME_WAIT. SO_REUSEPORT is set when more than one
// loop binds the same address, the kernel then distributes incoming
// connections across the listening sockets.
func newListenerSocket(config common.ServerConfig, sa *unix.SockaddrInet4, reusePort bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create socket: %v", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set SO_REUSEADDR: %v", err)
	}

	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("failed to set SO_REUSEPORT: %v", err)
		}
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind %s: %v", config.Endpoint, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to listen on %s: %v", config.Endpoint, err)
	}

	return fd, nil
}

// localAddr returns the actual bound address of a listening socket. This is
// how an endpoint with port 0 reports the port the kernel picked.
func localAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to get socket name: %v", err)
	}
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fmt.Errorf("unexpected sockaddr type %T", sa)
	}
	ip := make(net.IP, 4)
	copy(ip, inet4.Addr[:])
	return &net.TCPAddr{IP: ip, Port: inet4.Port}, nil
}

// sockaddrString formats a peer sockaddr for log output
func sockaddrString(sa unix.Sockaddr) string {
	if inet4, ok := sa.(*unix.SockaddrInet4); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d", inet4.Addr[0], inet4.Addr[1], inet4.Addr[2], inet4.Addr[3], inet4.Port)
	}
	return "unknown"
}

// --------------------------------------------------------------------------
// Accepted socket options
// --------------------------------------------------------------------------

// applyConnOptions applies the configured socket and TCP options to a freshly
// accepted connection (the counterpart of the net based backend's connection
// upgrade).
func applyConnOptions(fd int, config common.ServerConfig) error {
	if config.TCP.TCPNoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("failed to set TCP_NODELAY: %v", err)
		}
	}

	if config.Socket.ReadBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, config.Socket.ReadBufferSize); err != nil {
			return fmt.Errorf("failed to set SO_RCVBUF: %v", err)
		}
	}

	if config.Socket.WriteBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, config.Socket.WriteBufferSize); err != nil {
			return fmt.Errorf("failed to set SO_SNDBUF: %v", err)
		}
	}

	if config.TCP.TCPKeepAliveSec > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return fmt.Errorf("failed to set SO_KEEPALIVE: %v", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, config.TCP.TCPKeepAliveSec); err != nil {
			return fmt.Errorf("failed to set TCP_KEEPIDLE: %v", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, config.TCP.TCPKeepAliveSec); err != nil {
			return fmt.Errorf("failed to set TCP_KEEPINTVL: %v", err)
		}
	}

	if config.TCP.TCPLingerSec >= 0 {
		linger := &unix.Linger{Onoff: 1, Linger: int32(config.TCP.TCPLingerSec)}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, linger); err != nil {
			return fmt.Errorf("failed to set SO_LINGER: %v", err)
		}
	}

	return nil
}
