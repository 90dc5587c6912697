// Package environment models the shared 8-channel RF medium that every
// node transmits into and receives from: path loss, noise floor, jammer
// interference and capture/collision arbitration, following the teacher's
// radiomodel package's mutual-interference shape but with the simpler
// RSSI-margin capture rule this engine's spec calls for.
package environment

import (
	"math"
	"sort"

	"github.com/MythicalCow/lifelink/geo"
	"github.com/MythicalCow/lifelink/meshtypes"
)

// Channel is one of the 8 LoRa channels' shared state.
type Channel struct {
	FrequencyMHz float64
	Interference float64 // [0,1], decays 0.95/tick, incremented on contention
}

// Jammer is a localized interferer on a set of channels.
type Jammer struct {
	Lat, Lng float64
	RadiusM  float64
	PowerDbm float64
	Channels []int
}

// Signal is one transmitted packet in flight for the current tick.
type Signal struct {
	PacketId  int
	SenderId  meshtypes.NodeId
	Lat, Lng  float64
	Channel   int
	TxPowerDb float64
}

// CandidateRx is one receive candidate at a given receiver: the signal plus
// its computed RSSI/SNR and resolved delivery status.
type CandidateRx struct {
	Signal Signal
	Rssi   float64
	Snr    float64
	Status meshtypes.TxStatus
}

// Environment is the shared medium the simulator owns exclusively; nodes
// never reach into it directly, only through Simulator-mediated calls.
type Environment struct {
	Channels   [meshtypes.NumChannels]Channel
	airSignals []Signal
	jammers    []Jammer
}

// New builds an Environment with all 8 channels at zero interference.
func New() *Environment {
	e := &Environment{}
	for i := range e.Channels {
		e.Channels[i] = Channel{FrequencyMHz: 902.0 + float64(i)*0.2}
	}
	return e
}

// StartTick clears in-flight signals and decays channel interference,
// mirroring the teacher dispatcher's per-cycle tick-boundary bookkeeping.
func (e *Environment) StartTick() {
	e.airSignals = e.airSignals[:0]
	for i := range e.Channels {
		e.Channels[i].Interference *= 0.95
	}
}

// jammerPower returns the combined jamming power (dBm-linear sum, reported
// back in dBm) affecting a given location and channel.
func (e *Environment) jammerPower(lat, lng float64, channel int) float64 {
	var linearSum float64
	for _, j := range e.jammers {
		onChannel := false
		for _, c := range j.Channels {
			if c == channel {
				onChannel = true
				break
			}
		}
		if !onChannel {
			continue
		}
		d := geo.Haversine(geo.LatLon{Lat: lat, Lon: lng}, geo.LatLon{Lat: j.Lat, Lon: j.Lng})
		if d > j.RadiusM {
			continue
		}
		p := j.PowerDbm - 20*math.Log10(math.Max(d, 1))
		if p <= 0 {
			continue
		}
		linearSum += dbmToMw(p)
	}
	if linearSum <= 0 {
		return 0
	}
	return mwToDbm(linearSum)
}

func dbmToMw(dbm float64) float64 { return math.Pow(10, dbm/10) }
func mwToDbm(mw float64) float64  { return 10 * math.Log10(mw) }

// Transmit places a packet on the medium. It returns false (and does not
// place the signal) if jamming at the sender's location on that channel
// exceeds txPowerDbm+10 dB.
func (e *Environment) Transmit(packetId int, senderId meshtypes.NodeId, lat, lng float64, channel int, txPowerDbm float64) bool {
	jam := e.jammerPower(lat, lng, channel)
	if jam > txPowerDbm+10 {
		return false
	}
	e.airSignals = append(e.airSignals, Signal{
		PacketId:  packetId,
		SenderId:  senderId,
		Lat:       lat,
		Lng:       lng,
		Channel:   channel,
		TxPowerDb: txPowerDbm,
	})
	return true
}

func rssiAt(txPowerDbm, distanceM float64) float64 {
	return txPowerDbm - 40 - 20*math.Log10(math.Max(distanceM, 1))
}

// Receive computes the candidate signals audible at (lat,lng) on channel,
// resolves capture/collision among them, and returns each with its status.
func (e *Environment) Receive(receiverId meshtypes.NodeId, lat, lng float64, channel int) []CandidateRx {
	type cand struct {
		sig  Signal
		rssi float64
	}
	var cands []cand
	for _, s := range e.airSignals {
		if s.Channel != channel || s.SenderId == receiverId {
			continue
		}
		d := geo.Haversine(geo.LatLon{Lat: lat, Lon: lng}, geo.LatLon{Lat: s.Lat, Lon: s.Lng})
		if d > meshtypes.RadioRangeM {
			continue
		}
		cands = append(cands, cand{sig: s, rssi: rssiAt(s.TxPowerDb, d)})
	}
	if len(cands) == 0 {
		return nil
	}

	noise := meshtypes.NoiseFloorDbm + e.jammerPower(lat, lng, channel) + 20*e.Channels[channel].Interference

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].rssi > cands[j].rssi })

	out := make([]CandidateRx, len(cands))
	if len(cands) == 1 {
		snr := cands[0].rssi - noise
		status := meshtypes.StatusOK
		if snr < 0 {
			status = meshtypes.StatusJammed
		}
		out[0] = CandidateRx{Signal: cands[0].sig, Rssi: cands[0].rssi, Snr: snr, Status: status}
	} else {
		strongest := cands[0]
		second := cands[1]
		captureOK := strongest.rssi-second.rssi >= meshtypes.CaptureThresholdDB
		for i, c := range cands {
			snr := c.rssi - noise
			var status meshtypes.TxStatus
			if i == 0 && captureOK {
				status = meshtypes.StatusCaptured
				if snr < 0 {
					status = meshtypes.StatusJammed
				}
			} else {
				status = meshtypes.StatusCollision
			}
			out[i] = CandidateRx{Signal: c.sig, Rssi: c.rssi, Snr: snr, Status: status}
		}
	}

	inc := 0.1 * float64(len(cands))
	newInterference := e.Channels[channel].Interference + inc
	if newInterference > 1 {
		newInterference = 1
	}
	e.Channels[channel].Interference = newInterference

	return out
}

// AddJammer registers a new localized jammer.
func (e *Environment) AddJammer(lat, lng, radiusM, powerDbm float64, channels []int) {
	e.jammers = append(e.jammers, Jammer{Lat: lat, Lng: lng, RadiusM: radiusM, PowerDbm: powerDbm, Channels: channels})
}

// ClearJammers removes every registered jammer.
func (e *Environment) ClearJammers() {
	e.jammers = nil
}

// Reset clears all channel interference, in-flight signals and jammers.
func (e *Environment) Reset() {
	for i := range e.Channels {
		e.Channels[i].Interference = 0
	}
	e.airSignals = nil
	e.jammers = nil
}
