package toolchain

import (
	"strings"
)

const defaultBoardName = "Unknown board"

// ParseBoardList parses the table printed by "arduino-cli board list".
// Only serial-looking ports are kept. Columns after the port are
// "Protocol Type [Board Name...] [FQBN Core]"; when a row carries an FQBN
// its board name is everything between the type column and the FQBN.
func ParseBoardList(text string) []Board {
	var boards []Board
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		port := fields[0]
		if !looksLikeSerialPort(port) {
			continue
		}
		b := Board{Port: port, Protocol: fields[1], Name: defaultBoardName}
		rest := fields[2:]
		if len(rest) > 0 {
			// Drop the "Type" column (e.g. "Serial Port (USB)").
			rest = dropTypeColumn(rest)
		}
		if n := len(rest); n >= 2 && strings.Count(rest[n-2], ":") >= 2 {
			b.FQBN = rest[n-2]
			rest = rest[:n-2]
		}
		if len(rest) > 0 {
			b.Name = strings.Join(rest, " ")
		}
		boards = append(boards, b)
	}
	return boards
}

func looksLikeSerialPort(port string) bool {
	return strings.HasPrefix(port, "/dev/") || strings.HasPrefix(strings.ToUpper(port), "COM")
}

func dropTypeColumn(fields []string) []string {
	if len(fields) >= 2 && fields[0] == "Serial" && fields[1] == "Port" {
		fields = fields[2:]
		if len(fields) > 0 && strings.HasPrefix(fields[0], "(") && strings.HasSuffix(fields[0], ")") {
			fields = fields[1:]
		}
		return fields
	}
	if len(fields) > 0 && fields[0] == "Unknown" {
		return fields[1:]
	}
	return fields
}
