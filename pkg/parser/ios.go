package parser

import (
	"regexp"

	"github.com/modoterra/logcap/pkg/core"
)

// Mon DD HH:MM:SS DEVICE PROCESS[PID] <LEVEL>: CONTENT
var syslogPattern = regexp.MustCompile(
	`^([A-Za-z]{3})\s+(\d{2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\S+)\s+(.+?)\[(\d+)\]\s+<(\w+)>:\s+(.*)`,
)

// IOS parses idevicesyslog output.
type IOS struct{}

func (IOS) Platform() core.Platform { return core.PlatformIOS }

func (IOS) Header() []string { return core.IOSHeader }

func (IOS) Parse(line string) (core.Record, bool) {
	m := syslogPattern.FindStringSubmatch(trimEOL(line))
	if m == nil {
		return nil, false
	}
	return core.IOSRecord{
		Month:   m[1],
		Day:     m[2],
		Hour:    m[3],
		Min:     m[4],
		Sec:     m[5],
		Device:  m[6],
		Process: m[7],
		PID:     m[8],
		Level:   m[9],
		Content: m[10],
	}, true
}
