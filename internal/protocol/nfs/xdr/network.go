package xdr

import "net"

// ExtractClientIP returns the IP part of an "IP:port" address, or the
// input unchanged when it has no port.
func ExtractClientIP(clientAddr string) string {
	if clientAddr == "" {
		return "unknown"
	}

	ip, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		return clientAddr
	}
	return ip
}
