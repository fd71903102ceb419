package main

import "github.com/loqalabs/loqa-tone/plugins/examples/internal/host"

// duty is the fraction of each cycle spent high.
const duty = 0.25

var announced bool

//export generate
func generate(phase float64) float64 {
	if !announced {
		announced = true
		host.Log("pulse plugin: 25% duty")
	}
	phase -= float64(int64(phase))
	if phase < 0 {
		phase++
	}
	if phase < duty {
		return 1
	}
	return -1
}

func main() {}
