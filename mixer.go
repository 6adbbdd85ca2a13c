package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Mixed output format.
const (
	MixSampleRate = 48000
	MixChannels   = 2
)

const mixQuantum = 20 * time.Millisecond

// MixerConfig configures an audio graph.
type MixerConfig struct {
	// MaxBuffer caps how much audio a lagging node may queue.
	MaxBuffer time.Duration
	Clock     clock.WithTicker
	Logger    *logrus.Entry
}

// AudioGraph mixes the audio tracks of several sources into one track.
// Each graph serves one recording attempt and must be closed.
type AudioGraph struct {
	id    string
	nodes []*audioNode
	dest  *LocalAudioTrack
	clock clock.WithTicker
	log   *logrus.Entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mixed  atomic.Uint64 // frames written to dest
}

// audioNode buffers one input track, resampled to the mix format.
type audioNode struct {
	track   AudioTrack
	mu      sync.Mutex
	fifo    []int16
	limit   int
	dropped atomic.Uint64
}

// Mix builds a new graph over every audio track of the given handles.
// Handles without audio are skipped; if none carry audio the result is
// ErrNoAudioSources.
func Mix(ctx context.Context, sources []*SourceHandle, config MixerConfig) (*AudioGraph, error) {
	if config.MaxBuffer <= 0 {
		config.MaxBuffer = 200 * time.Millisecond
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = logrus.WithField("component", "mixer")
	}

	limit := int(config.MaxBuffer.Seconds()*MixSampleRate) * MixChannels
	var nodes []*audioNode
	for _, h := range sources {
		if h == nil {
			continue
		}
		for _, t := range h.Audio {
			nodes = append(nodes, &audioNode{track: t, limit: limit})
		}
	}
	if len(nodes) == 0 {
		return nil, ErrNoAudioSources
	}

	g := &AudioGraph{
		id:    uuid.NewString(),
		nodes: nodes,
		dest: NewLocalAudioTrack("mixed audio", AudioTrackSettings{
			SampleRate:   MixSampleRate,
			ChannelCount: MixChannels,
		}),
		clock: config.Clock,
		log:   config.Logger,
	}

	graphCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	ticker := g.clock.NewTicker(mixQuantum)
	for _, n := range nodes {
		g.wg.Add(1)
		go g.pump(graphCtx, n)
	}
	g.wg.Add(1)
	go g.mixLoop(graphCtx, ticker)

	g.dest.OnStop(g.halt)
	g.log.WithFields(logrus.Fields{"graph": g.id, "nodes": len(nodes)}).Info("audio graph created")
	return g, nil
}

// Track returns the single mixed output track.
func (g *AudioGraph) Track() AudioTrack { return g.dest }

// Mixed returns the number of frames written to the output track.
func (g *AudioGraph) Mixed() uint64 { return g.mixed.Load() }

// Nodes returns the number of source nodes in the graph.
func (g *AudioGraph) Nodes() int { return len(g.nodes) }

// Close stops mixing and ends the output track. Input tracks are left to
// their owners.
func (g *AudioGraph) Close() {
	g.halt()
	g.dest.Stop()
}

func (g *AudioGraph) halt() {
	g.cancel()
	g.wg.Wait()
}

func (g *AudioGraph) pump(ctx context.Context, n *audioNode) {
	defer g.wg.Done()
	for {
		s, err := n.track.ReadSamples(ctx)
		if err != nil {
			return
		}
		n.push(resampleStereo48k(s))
	}
}

func (g *AudioGraph) mixLoop(ctx context.Context, ticker clock.Ticker) {
	defer g.wg.Done()
	defer ticker.Stop()

	frames := int(mixQuantum.Seconds() * MixSampleRate)
	acc := make([]int32, frames*MixChannels)
	for {
		select {
		case <-ctx.Done():
			g.log.WithFields(logrus.Fields{"graph": g.id, "frames": g.mixed.Load()}).Debug("audio graph closed")
			return
		case <-ticker.C():
			for i := range acc {
				acc[i] = 0
			}
			for _, n := range g.nodes {
				n.popInto(acc)
			}
			ts := int64(g.mixed.Load()) * int64(time.Second) / MixSampleRate
			if err := g.dest.WriteSamples(NewAudioSamples(clampMix(acc), MixSampleRate, MixChannels, ts)); err != nil {
				return
			}
			g.mixed.Add(uint64(frames))
		}
	}
}

func (n *audioNode) push(pcm []int16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fifo = append(n.fifo, pcm...)
	if over := len(n.fifo) - n.limit; over > 0 {
		over += over % MixChannels
		n.fifo = append(n.fifo[:0], n.fifo[over:]...)
		n.dropped.Add(uint64(over / MixChannels))
	}
}

// popInto adds up to len(acc) queued samples to acc. Missing samples count
// as silence.
func (n *audioNode) popInto(acc []int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := min(len(acc), len(n.fifo))
	for i := 0; i < k; i++ {
		acc[i] += int32(n.fifo[i])
	}
	n.fifo = append(n.fifo[:0], n.fifo[k:]...)
}

// clampMix saturates summed samples to the int16 range.
func clampMix(acc []int32) []int16 {
	out := make([]int16, len(acc))
	for i, v := range acc {
		switch {
		case v > 32767:
			out[i] = 32767
		case v < -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// resampleStereo48k converts samples to 48 kHz interleaved stereo with
// nearest-neighbour rate conversion. Mono is duplicated to both channels;
// channels beyond the second are dropped.
func resampleStereo48k(s *AudioSamples) []int16 {
	in := s.Int16()
	ch := s.Channels
	if ch <= 0 {
		ch = 1
	}
	rate := s.SampleRate
	if rate <= 0 {
		rate = MixSampleRate
	}
	inFrames := len(in) / ch
	outFrames := inFrames * MixSampleRate / rate
	out := make([]int16, outFrames*MixChannels)
	for i := 0; i < outFrames; i++ {
		j := i * rate / MixSampleRate
		if j >= inFrames {
			j = inFrames - 1
		}
		l := in[j*ch]
		r := l
		if ch > 1 {
			r = in[j*ch+1]
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	return out
}
