package models

import "strings"

// BannerState is totally ordered: Danger > Warning > Safe.
type BannerState int

const (
	BannerSafe BannerState = iota
	BannerWarning
	BannerDanger
)

func (b BannerState) String() string {
	switch b {
	case BannerWarning:
		return "WARNING"
	case BannerDanger:
		return "DANGER"
	default:
		return "SAFE"
	}
}

func (b BannerState) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BannerState) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "WARNING":
		*b = BannerWarning
	case "DANGER":
		*b = BannerDanger
	default:
		*b = BannerSafe
	}
	return nil
}
