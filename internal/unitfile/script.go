package unitfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	lsbBeginInitInfo = "### BEGIN INIT INFO"
	lsbEndInitInfo   = "### END INIT INFO"
	lsbProvides      = "# Provides:"
	beginEmbed       = ":<<SYSVKIT"
	endEmbed         = "SYSVKIT"
)

// LoadScript extracts and parses a unit file embedded in a sysvinit-style
// shell script in the layout the original sysvkit init-script installer
// writes. The script is expected to carry an LSB comment
// block naming the service in its Provides: line, followed by a heredoc
// of the form ":<<SYSVKIT" ... "SYSVKIT" containing the unit text.
func LoadScript(r io.Reader, name string) (*Unit, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	i := indexOf(lines, lsbBeginInitInfo, 0)
	if i < 0 {
		return nil, fmt.Errorf("unitfile: LSB info block not found")
	}
	i = indexOfPrefix(lines, lsbProvides, i)
	if i < 0 {
		return nil, fmt.Errorf("unitfile: Provides line not found")
	}
	facility := strings.TrimSpace(strings.TrimPrefix(lines[i], lsbProvides))
	fields := strings.Fields(facility)
	if len(fields) == 0 || fields[0] != name {
		return nil, fmt.Errorf("unitfile: service name mismatch in Provides line")
	}

	i = indexOf(lines, lsbEndInitInfo, i)
	if i < 0 {
		return nil, fmt.Errorf("unitfile: end of LSB info block not found")
	}

	begin := indexOf(lines, beginEmbed, i)
	if begin < 0 {
		return nil, fmt.Errorf("unitfile: embedded unit file not found")
	}
	end := indexOf(lines, endEmbed, begin+1)
	if end < 0 {
		return nil, fmt.Errorf("unitfile: end of embedded unit file not found")
	}

	embedded := strings.Join(lines[begin+1:end], "\n")
	if embedded != "" {
		embedded += "\n"
	}
	return parseBytes([]byte(embedded), name)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func indexOf(lines []string, needle string, from int) int {
	for i := from; i < len(lines); i++ {
		if lines[i] == needle {
			return i
		}
	}
	return -1
}

func indexOfPrefix(lines []string, prefix string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], prefix) {
			return i
		}
	}
	return -1
}
