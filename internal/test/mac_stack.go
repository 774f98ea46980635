package test

import (
	"runtime"
	"sync"

	"github.com/thingpilot/lorawan-node/internal/backend/mac"
)

// NoEvent can be used in a Result when the call must not post an event.
const NoEvent mac.Event = -1

// Result defines the scripted result of a MAC stack call.
type Result struct {
	Status mac.Status
	Event  mac.Event
}

// Uplink holds an uplink sent through the MACStack.
type Uplink struct {
	Port    uint8
	Payload []byte
	Flags   mac.Flags
}

// Downlink holds a downlink queued for the MACStack.
type Downlink struct {
	Port    uint8
	Payload []byte
	Flags   mac.Flags
}

// MACStack is a scripted MAC stack and radio for testing. Events are posted
// synchronously to the registered handler.
type MACStack struct {
	mu      sync.Mutex
	handler mac.EventHandler

	InitializeStatus     mac.Status
	SetDeviceClassStatus mac.Status
	ADRStatus            mac.Status
	DisconnectStatus     mac.Status
	SleepErr             error
	StandbyErr           error

	// ConnectResults and SendResults are consumed in order, the last result
	// is re-used when exhausted.
	ConnectResults []Result
	SendResults    []Result

	// OnSend is called after every successful Send.
	OnSend func(port uint8, payload []byte)

	Downlinks []Downlink

	ConnectParams []mac.ConnectParams
	Class         mac.DeviceClass
	ADREnabled    bool
	Uplinks       []Uplink

	InitializeCount int
	ConnectCount    int
	DisconnectCount int
	SendCount       int
	ReceiveCount    int
	SleepCount      int
	StandbyCount    int
}

// NewMACStack creates a MACStack which joins and sends successfully.
func NewMACStack() *MACStack {
	return &MACStack{
		DisconnectStatus: mac.StatusDeviceOff,
		ConnectResults:   []Result{{Status: mac.StatusConnectInProgress, Event: mac.Connected}},
		SendResults:      []Result{{Status: mac.StatusOK, Event: mac.TXDone}},
	}
}

// Initialize method.
func (s *MACStack) Initialize(h mac.EventHandler) mac.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.InitializeCount++
	s.handler = h
	return s.InitializeStatus
}

// Connect method.
func (s *MACStack) Connect(p mac.ConnectParams) mac.Status {
	s.mu.Lock()
	s.ConnectCount++
	s.ConnectParams = append(s.ConnectParams, p)
	res := next(&s.ConnectResults)
	s.mu.Unlock()

	s.Post(res.Event)
	return res.Status
}

// SetDeviceClass method.
func (s *MACStack) SetDeviceClass(c mac.DeviceClass) mac.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Class = c
	return s.SetDeviceClassStatus
}

// EnableAdaptiveDatarate method.
func (s *MACStack) EnableAdaptiveDatarate() mac.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ADREnabled = true
	return s.ADRStatus
}

// Disconnect method.
func (s *MACStack) Disconnect() mac.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DisconnectCount++
	return s.DisconnectStatus
}

// Send method.
func (s *MACStack) Send(port uint8, payload []byte, flags mac.Flags) (int, mac.Status) {
	s.mu.Lock()
	s.SendCount++
	res := next(&s.SendResults)
	if res.Status != mac.StatusOK {
		s.mu.Unlock()
		s.Post(res.Event)
		return 0, res.Status
	}

	b := make([]byte, len(payload))
	copy(b, payload)
	s.Uplinks = append(s.Uplinks, Uplink{Port: port, Payload: b, Flags: flags})
	onSend := s.OnSend
	s.mu.Unlock()

	s.Post(res.Event)
	if onSend != nil {
		onSend(port, b)
	}
	return len(payload), res.Status
}

// Receive method.
func (s *MACStack) Receive(buf []byte) (uint8, int, mac.Flags, mac.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ReceiveCount++
	if len(s.Downlinks) == 0 {
		return 0, 0, 0, mac.StatusWouldBlock
	}

	dl := s.Downlinks[0]
	s.Downlinks = s.Downlinks[1:]
	if len(dl.Payload) > len(buf) {
		return dl.Port, len(dl.Payload), dl.Flags, mac.StatusOK
	}
	n := copy(buf, dl.Payload)
	return dl.Port, n, dl.Flags, mac.StatusOK
}

// Sleep method.
func (s *MACStack) Sleep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SleepCount++
	return s.SleepErr
}

// Standby method.
func (s *MACStack) Standby() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.StandbyCount++
	return s.StandbyErr
}

// Close method.
func (s *MACStack) Close() error {
	return nil
}

// QueueDownlink queues the given downlink and posts an RXDone event.
func (s *MACStack) QueueDownlink(dl Downlink) {
	s.mu.Lock()
	s.Downlinks = append(s.Downlinks, dl)
	s.mu.Unlock()

	s.Post(mac.RXDone)
}

// Post posts the given event to the registered handler.
func (s *MACStack) Post(e mac.Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	if h == nil || e == NoEvent {
		return
	}
	h.HandleEvent(e)
}

func next(results *[]Result) Result {
	if len(*results) == 0 {
		return Result{Status: mac.StatusOK, Event: NoEvent}
	}
	res := (*results)[0]
	if len(*results) > 1 {
		*results = (*results)[1:]
	}
	return res
}

// Restarter is a restarter for testing. Restart terminates the calling
// goroutine.
type Restarter struct {
	mu    sync.Mutex
	count int

	RestartChan chan struct{}
}

// NewRestarter creates a new Restarter.
func NewRestarter() *Restarter {
	return &Restarter{
		RestartChan: make(chan struct{}, 10),
	}
}

// Restart method.
func (r *Restarter) Restart() {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()

	r.RestartChan <- struct{}{}
	runtime.Goexit()
}

// Count returns the number of Restart calls.
func (r *Restarter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
