package core

// Record is one parsed log line. Android and iOS records keep separate
// schemas; only the severity and the CSV row shape are shared.
type Record interface {
	// LogLevel returns the severity token the display filter keys on.
	LogLevel() string

	// Row returns the CSV cells in header order.
	Row() []string
}

// AndroidHeader is the structured artifact header for logcat captures.
var AndroidHeader = []string{"Month", "Day", "Hour", "Min", "Sec", "Milsec", "PID", "TID", "Log Level", "Component", "Content"}

// IOSHeader is the structured artifact header for syslog captures.
var IOSHeader = []string{"Month", "Day", "Hour", "Min", "Sec", "Device", "Process", "PID", "Content"}

// AndroidRecord is a logcat line split into its fixed-format fields.
type AndroidRecord struct {
	Month     string `json:"Month"`
	Day       string `json:"Day"`
	Hour      string `json:"Hour"`
	Min       string `json:"Min"`
	Sec       string `json:"Sec"`
	Milsec    string `json:"Milsec"`
	PID       string `json:"PID"`
	TID       string `json:"TID"`
	Level     string `json:"Log Level"`
	Component string `json:"Component"`
	Content   string `json:"Content"`
}

func (r AndroidRecord) LogLevel() string { return r.Level }

func (r AndroidRecord) Row() []string {
	return []string{r.Month, r.Day, r.Hour, r.Min, r.Sec, r.Milsec, r.PID, r.TID, r.Level, r.Component, r.Content}
}

// IOSRecord is a syslog line split into its fields. Level is parsed for
// filtering but is not part of the CSV row.
type IOSRecord struct {
	Month   string `json:"Month"`
	Day     string `json:"Day"`
	Hour    string `json:"Hour"`
	Min     string `json:"Min"`
	Sec     string `json:"Sec"`
	Device  string `json:"Device"`
	Process string `json:"Process"`
	PID     string `json:"PID"`
	Level   string `json:"Log Level"`
	Content string `json:"Content"`
}

func (r IOSRecord) LogLevel() string { return r.Level }

func (r IOSRecord) Row() []string {
	return []string{r.Month, r.Day, r.Hour, r.Min, r.Sec, r.Device, r.Process, r.PID, r.Content}
}
