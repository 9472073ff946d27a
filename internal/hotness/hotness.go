// Package hotness scores how often a key is requested, decaying older requests.
package hotness

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}
