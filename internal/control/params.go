package control

import (
	"sort"
	"strings"
)

// params are the caller-supplied values substituted into script templates.
type params struct {
	id       string
	command  string
	data     string
	username string
	password string
}

func (p params) replacer(password string) *strings.Replacer {
	return strings.NewReplacer(
		"{id}", p.id,
		"{command}", p.command,
		"{data}", p.data,
		"{username}", p.username,
		"{password}", password,
	)
}

// expand substitutes the placeholders in each template token. Tokens stay
// separate argv entries, so values are never interpreted by a shell.
func (p params) expand(tmpl []string) []string {
	return apply(p.replacer(p.password), tmpl)
}

// redact is expand with the password masked, for logs and run history.
func (p params) redact(tmpl []string) []string {
	mask := ""
	if p.password != "" {
		mask = "****"
	}
	return apply(p.replacer(mask), tmpl)
}

func apply(r *strings.Replacer, tmpl []string) []string {
	argv := make([]string, len(tmpl))
	for i, tok := range tmpl {
		argv[i] = r.Replace(tok)
	}
	return argv
}

// FeedCommand starts or stops a camera or microphone feed.
type FeedCommand string

// Feed commands understood by devicectl.
const (
	StartCam FeedCommand = "startcam"
	StopCam  FeedCommand = "stopcam"
	StartMic FeedCommand = "startmic"
	StopMic  FeedCommand = "stopmic"
)

// Valid reports whether fc is a known feed command.
func (fc FeedCommand) Valid() bool {
	switch fc {
	case StartCam, StopCam, StartMic, StopMic:
		return true
	}
	return false
}

// DeviceKind names the kind of device the command targets.
func (fc FeedCommand) DeviceKind() string {
	switch fc {
	case StartMic, StopMic:
		return "microphone"
	}
	return "camera"
}

// DeviceType is the device type, as announced by devices, that the command
// targets.
func (fc FeedCommand) DeviceType() string {
	switch fc {
	case StartMic, StopMic:
		return "mic"
	}
	return "cam"
}

// CommandDeviceType is the device type that receives Command calls.
const CommandDeviceType = "robot"

// Action returns the broker topic suffix and value that implement the
// command: the video or audio action channel, with "0" to start and "-1"
// to stop.
func (fc FeedCommand) Action() (topic, value string, ok bool) {
	switch fc {
	case StartCam:
		return "action_video", "0", true
	case StopCam:
		return "action_video", "-1", true
	case StartMic:
		return "action_audio", "0", true
	case StopMic:
		return "action_audio", "-1", true
	}
	return "", "", false
}

// SelectDevices turns the "name:type" entries picked in the browser into a
// type → name map. At most one device of each type is kept; later entries
// win. Entries without a type are ignored.
func SelectDevices(entries []string) map[string]string {
	devices := make(map[string]string, len(entries))
	for _, e := range entries {
		fields := strings.Split(e, ":")
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			continue
		}
		devices[fields[1]] = fields[0]
	}
	return devices
}

// DeviceTypes returns the selected device types in sorted order.
func DeviceTypes(devices map[string]string) []string {
	types := make([]string, 0, len(devices))
	for t := range devices {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
