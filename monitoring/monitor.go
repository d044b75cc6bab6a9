// Package monitoring turns a running kernel into an HTTP server that can be
// inspected and steered from outside the simulation.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/desim/idgen"
	"github.com/sarchlab/desim/sim"
)

// Controller is the part of a kernel the monitor needs. *sim.Kernel
// implements it.
type Controller interface {
	Name() string
	CurrentTime() sim.VTime
	Pause()
	Continue()
	Stop()
	ExternalNotifyByName(name string) error
	Snapshot() sim.Status
	AttachProducer() error
	DetachProducer()
}

// Monitor can turn a simulation into a server and allows external monitoring
// and controlling of the simulation.
type Monitor struct {
	controller      Controller
	portNumber      int
	openBrowser     bool
	profileDuration time.Duration

	server   *http.Server
	listener net.Listener
	attached bool

	ids              idgen.Generator
	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		profileDuration: time.Second,
		ids:             idgen.New(),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// rejected in favor of a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor in the default browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterController registers the kernel that is monitored.
func (m *Monitor) RegisterController(c Controller) {
	m.controller = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list of shown bars.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the HTTP routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/pause", m.pause)
	r.HandleFunc("/api/continue", m.continueKernel)
	r.HandleFunc("/api/stop", m.stop)
	r.HandleFunc("/api/notify/{event}", m.notify)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/status/{path}", m.statusField)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{name}", m.processDetails)
	r.HandleFunc("/api/events", m.listEvents)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server. While the server runs, the
// monitor is attached to the kernel's bridge as a producer, so an idle kernel
// keeps waiting for notifications posted over HTTP.
func (m *Monitor) StartServer() error {
	if m.controller == nil {
		return errors.New("monitoring: no controller registered")
	}

	if err := m.controller.AttachProducer(); err != nil {
		return err
	}

	m.attached = true

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		m.detach()
		return err
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := "http://" + m.Addr()
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Panic(err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url + "/api/status"); err != nil {
			log.Printf("monitoring: cannot open browser: %v", err)
		}
	}

	return nil
}

// Addr returns the address the server listens on.
func (m *Monitor) Addr() string {
	if m.listener == nil {
		return ""
	}

	return fmt.Sprintf("localhost:%d", m.listener.Addr().(*net.TCPAddr).Port)
}

// StopServer shuts the server down and detaches from the kernel's bridge.
func (m *Monitor) StopServer(ctx context.Context) error {
	defer m.detach()

	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) detach() {
	if m.attached {
		m.controller.DetachProducer()
		m.attached = false
	}
}

type nowRsp struct {
	Now   string  `json:"now"`
	NowPS uint64  `json:"now_ps"`
	Sec   float64 `json:"sec"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	t := m.controller.CurrentTime()

	writeJSON(w, nowRsp{
		Now:   t.String(),
		NowPS: uint64(t),
		Sec:   t.Seconds(),
	})
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.controller.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueKernel(w http.ResponseWriter, _ *http.Request) {
	m.controller.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) stop(w http.ResponseWriter, _ *http.Request) {
	m.controller.Stop()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) notify(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["event"]

	err := m.controller.ExternalNotifyByName(name)
	if errors.Is(err, sim.ErrUnknownEvent) {
		w.WriteHeader(http.StatusNotFound)
		_, err = w.Write([]byte("Event not found"))
		dieOnErr(err)

		return
	}

	dieOnErr(err)
	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.controller.Snapshot())
}

// statusField serves a single value of the kernel status, addressed by a
// dotted path of field names and slice indexes, for example
// "Processes.0.State".
func (m *Monitor) statusField(w http.ResponseWriter, r *http.Request) {
	s := m.controller.Snapshot()

	elem, err := m.walkFields(&s, mux.Vars(r)["path"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	writeJSON(w, elem.Interface())
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	s := m.controller.Snapshot()

	names := make([]string, 0, len(s.Processes))
	for _, p := range s.Processes {
		names = append(names, p.Name)
	}

	writeJSON(w, names)
}

func (m *Monitor) processDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	ps := m.findProcessOr404(w, name)
	if ps == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(ps)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findProcessOr404(
	w http.ResponseWriter,
	name string,
) *sim.ProcessStatus {
	s := m.controller.Snapshot()

	for i := range s.Processes {
		if s.Processes[i].Name == name {
			return &s.Processes[i]
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Process not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listEvents(w http.ResponseWriter, _ *http.Request) {
	events := m.controller.Snapshot().Events
	if events == nil {
		events = []sim.EventStatus{}
	}

	writeJSON(w, events)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	rsp := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		rsp = append(rsp, b.rsp())
	}

	writeJSON(w, rsp)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

type fieldFormatError struct {
	segment string
}

func (e fieldFormatError) Error() string {
	return fmt.Sprintf("cannot resolve %q", e.segment)
}

func (m *Monitor) walkFields(
	root any,
	fields string,
) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			elem = elem.Elem()
		case reflect.Struct:
			field, ok := elem.Type().FieldByName(fieldNames[0])
			if !ok || !field.IsExported() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = elem.FieldByIndex(field.Index)
			fieldNames = fieldNames[1:]
		case reflect.Slice:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{fieldNames[0]}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
