package devices

// Options bound the capture constraints.
type Options struct {
	MaxWidth     int `mapstructure:"max_width"`
	MaxHeight    int `mapstructure:"max_height"`
	VideoBitRate int `mapstructure:"video_bitrate"`
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = 640
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 480
	}
	if o.VideoBitRate <= 0 {
		o.VideoBitRate = 1_500_000
	}
	return o
}

// Info describes a capture device.
type Info struct {
	ID    string
	Kind  string
	Label string
}
