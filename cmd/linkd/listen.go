package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// listenWithFallback tries addr and, when the port is taken, the next 20 ports.
func listenWithFallback(addr string) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, addr, nil
	}
	if !isAddrInUse(err) {
		return nil, "", err
	}

	host, portStr, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		return nil, "", err
	}
	port, convErr := strconv.Atoi(portStr)
	if convErr != nil || port == 0 {
		return nil, "", err
	}
	for i := 1; i <= 20; i++ {
		try := net.JoinHostPort(host, strconv.Itoa(port+i))
		if ln, e := net.Listen("tcp", try); e == nil {
			return ln, try, nil
		}
	}
	return nil, "", fmt.Errorf("no free port near %s: %w", addr, err)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// Windows reports WSAEADDRINUSE with this text.
	return strings.Contains(strings.ToLower(err.Error()), "only one usage of each socket address")
}
