package lark

import "time"

// Config captures Lark gateway behavior.
type Config struct {
	AppID       string
	AppSecret   string
	BaseDomain  string
	AllowGroups bool
	AllowDirect bool
	// DedupTTL bounds how long a delivered event id is remembered.
	DedupTTL time.Duration
}
