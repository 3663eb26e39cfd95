package main

import (
	"context"
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
	"gitlab.com/lehn/edid"
	"go.uber.org/zap"
)

// randrController speaks the RandR extension protocol directly over the X
// socket instead of shelling out to xrandr. The connection is owned by one
// run and closed when the run ends.
type randrController struct {
	X        *xgb.Conn
	screen   *xproto.ScreenInfo
	classify *Classifier
	log      *zap.SugaredLogger
}

func newRandrController(classify *Classifier, log *zap.SugaredLogger) (*randrController, error) {
	X, err := xgb.NewConn()
	if err != nil {
		return nil, &ConnectionError{Server: "X server", Err: err}
	}

	if err := randr.Init(X); err != nil {
		X.Close()
		return nil, &ConnectionError{Server: "X server", Err: fmt.Errorf("randr init: %w", err)}
	}

	screen := xproto.Setup(X).DefaultScreen(X)
	return &randrController{X: X, screen: screen, classify: classify, log: log}, nil
}

func (c *randrController) Close() error {
	c.X.Close()
	return nil
}

// randrSnapshot is one enumeration of the server's screen resources. A fresh
// one is taken for every query and again for every apply, so a toggle never
// acts on topology older than itself.
type randrSnapshot struct {
	configTimestamp xproto.Timestamp
	modes           map[uint32]randr.ModeInfo
	outputs         []randr.Output
	outputInfo      map[randr.Output]*randr.GetOutputInfoReply
	crtcs           []randr.Crtc
	crtcInfo        map[randr.Crtc]*randr.GetCrtcInfoReply
}

func (c *randrController) snapshot() (*randrSnapshot, error) {
	resources, err := randr.GetScreenResources(c.X, c.screen.Root).Reply()
	if err != nil {
		return nil, &ProtocolError{Request: "GetScreenResources", Err: err}
	}

	snap := &randrSnapshot{
		configTimestamp: resources.ConfigTimestamp,
		modes:           make(map[uint32]randr.ModeInfo, len(resources.Modes)),
		outputs:         resources.Outputs,
		outputInfo:      make(map[randr.Output]*randr.GetOutputInfoReply, len(resources.Outputs)),
		crtcs:           resources.Crtcs,
		crtcInfo:        make(map[randr.Crtc]*randr.GetCrtcInfoReply, len(resources.Crtcs)),
	}
	for _, mi := range resources.Modes {
		snap.modes[mi.Id] = mi
	}
	for _, id := range resources.Outputs {
		info, err := randr.GetOutputInfo(c.X, id, resources.ConfigTimestamp).Reply()
		if err != nil {
			return nil, &ProtocolError{Request: fmt.Sprintf("GetOutputInfo output=%d", id), Err: err}
		}
		snap.outputInfo[id] = info
	}
	for _, id := range resources.Crtcs {
		info, err := randr.GetCrtcInfo(c.X, id, resources.ConfigTimestamp).Reply()
		if err != nil {
			return nil, &ProtocolError{Request: fmt.Sprintf("GetCrtcInfo crtc=%d", id), Err: err}
		}
		snap.crtcInfo[id] = info
	}
	return snap, nil
}

func (c *randrController) Outputs(ctx context.Context) (*Screen, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}

	screen := &Screen{}
	for _, id := range snap.outputs {
		info := snap.outputInfo[id]
		name := string(info.Name)
		monitorID := c.monitorIdentifier(id)

		out := &Output{
			Name:      name,
			MonitorID: monitorID,
			Connected: info.Connection == randr.ConnectionConnected,
			Enabled:   info.Crtc != 0,
			Location:  c.classify.Locate(name, monitorID),
		}
		for i, modeID := range info.Modes {
			mi, ok := snap.modes[uint32(modeID)]
			if !ok || !admissibleMode(&mi) {
				continue
			}
			out.Modes = append(out.Modes, Mode{
				Resolution: Resolution{Width: int(mi.Width), Height: int(mi.Height)},
				RefreshmHz: modeRefreshmHz(&mi),
				Preferred:  i < int(info.NumPreferred),
			})
		}
		screen.Outputs = append(screen.Outputs, out)
	}
	return screen, nil
}

// monitorIdentifier reads the output's EDID property and condenses it to a
// stable PNPID-model-serial string. Outputs without an EDID (disconnected,
// virtual) yield "".
func (c *randrController) monitorIdentifier(output randr.Output) string {
	at, err := xproto.InternAtom(c.X, false, 4, "EDID").Reply()
	if err != nil {
		return ""
	}

	prop, err := randr.GetOutputProperty(c.X, output, at.Atom, xproto.GetPropertyTypeAny, 0, 128, false, false).Reply()
	if err != nil || len(prop.Data) < 128 {
		return ""
	}

	e, err := edid.New(prop.Data)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s-%d-%d", string(e.PNPID[:]), e.Model, e.Serial)
}

// Double-scan modes double the vertical timing and confuse the refresh math;
// the server keeps them around for ancient monitors only.
func admissibleMode(mi *randr.ModeInfo) bool {
	return mi.ModeFlags&randr.ModeFlagDoubleScan == 0
}

func modeRefreshmHz(mi *randr.ModeInfo) int {
	if mi.Htotal == 0 || mi.Vtotal == 0 {
		return 0
	}
	return int(uint64(mi.DotClock) * 1000 / (uint64(mi.Htotal) * uint64(mi.Vtotal)))
}

func modeResolution(mi *randr.ModeInfo) Resolution {
	return Resolution{Width: int(mi.Width), Height: int(mi.Height)}
}

func (c *randrController) Apply(ctx context.Context, plan *SwitchPlan, sel *ModeSelection) error {
	if err := xproto.GrabServerChecked(c.X).Check(); err != nil {
		return &ProtocolError{Request: "GrabServer", Err: err}
	}
	defer func() {
		xproto.UngrabServerChecked(c.X).Check()
	}()

	snap, err := c.snapshot()
	if err != nil {
		return err
	}

	reqs, err := planCrtcRequests(plan, sel, snap)
	if err != nil {
		return err
	}

	for _, req := range reqs {
		c.log.Debugw("SetCrtcConfig",
			"crtc", uint32(req.crtc), "mode", uint32(req.mode), "outputs", req.outputs)
		reply, err := randr.SetCrtcConfig(c.X, req.crtc, 0, snap.configTimestamp,
			req.x, req.y, req.mode, randr.RotationRotate0, req.outputs).Reply()
		if err != nil {
			return &ProtocolError{Request: fmt.Sprintf("SetCrtcConfig crtc=%d mode=%d", req.crtc, req.mode), Err: err}
		}
		if reply.Status != randr.SetConfigSuccess {
			return &ProtocolError{
				Request: fmt.Sprintf("SetCrtcConfig crtc=%d mode=%d", req.crtc, req.mode),
				Err:     fmt.Errorf("status %d", reply.Status),
			}
		}
	}

	if size := computeScreenSize(reqs, snap); size != nil &&
		(size.width != c.screen.WidthInPixels || size.height != c.screen.HeightInPixels) {
		c.log.Debugw("SetScreenSize", "width", size.width, "height", size.height,
			"mm_width", size.mmWidth, "mm_height", size.mmHeight)
		err := randr.SetScreenSizeChecked(c.X, c.screen.Root,
			size.width, size.height, size.mmWidth, size.mmHeight).Check()
		if err != nil {
			return &ProtocolError{Request: fmt.Sprintf("SetScreenSize %dx%d", size.width, size.height), Err: err}
		}
		c.screen.WidthInPixels = size.width
		c.screen.HeightInPixels = size.height
	}
	return nil
}

// crtcRequest is one SetCrtcConfig in the order it must be issued. A zero
// mode disables the crtc.
type crtcRequest struct {
	crtc    randr.Crtc
	x, y    int16
	mode    randr.Mode
	outputs []randr.Output
}

// crtcState tracks what a crtc will hold once the preceding requests have
// been applied.
type crtcState struct {
	x, y    int16
	mode    randr.Mode
	outputs []randr.Output
}

// planCrtcRequests translates a switch plan into the request sequence.
// Outputs being disabled are detached from their crtcs before any enabled
// output claims a crtc or changes a mode: a crtc transiently driving two
// outputs, or holding a mode its new output cannot carry, gets the whole
// sequence rejected by the server. Requests matching the crtc's current state
// are dropped.
func planCrtcRequests(plan *SwitchPlan, sel *ModeSelection, snap *randrSnapshot) ([]crtcRequest, error) {
	byName := make(map[string]randr.Output, len(snap.outputs))
	for id, info := range snap.outputInfo {
		byName[string(info.Name)] = id
	}

	pending := make(map[randr.Crtc]*crtcState, len(snap.crtcs))
	for _, id := range snap.crtcs {
		info := snap.crtcInfo[id]
		pending[id] = &crtcState{
			x:       info.X,
			y:       info.Y,
			mode:    info.Mode,
			outputs: append([]randr.Output(nil), info.Outputs...),
		}
	}

	var reqs []crtcRequest
	emit := func(crtc randr.Crtc) {
		st := pending[crtc]
		cur := snap.crtcInfo[crtc]
		if st.mode == cur.Mode && st.x == cur.X && st.y == cur.Y && sameOutputs(st.outputs, cur.Outputs) {
			return
		}
		reqs = append(reqs, crtcRequest{crtc: crtc, x: st.x, y: st.y, mode: st.mode, outputs: st.outputs})
	}

	// Detach first. An output that vanished between query and apply is
	// already off; the race with other reconfigurators is not arbitrated.
	dirty := make(map[randr.Crtc]bool)
	for _, o := range plan.Disable {
		id, ok := byName[o.Name]
		if !ok {
			continue
		}
		crtc := snap.outputInfo[id].Crtc
		if crtc == 0 {
			continue
		}
		st := pending[crtc]
		st.outputs = removeOutput(st.outputs, id)
		if len(st.outputs) == 0 {
			st.mode = 0
		}
		dirty[crtc] = true
	}
	for _, crtc := range snap.crtcs {
		if dirty[crtc] {
			emit(crtc)
		}
	}

	// Then attach, mirrored at the origin.
	for _, o := range plan.Enable {
		id, ok := byName[o.Name]
		if !ok {
			continue
		}
		info := snap.outputInfo[id]

		crtc := info.Crtc
		if crtc == 0 {
			crtc = freeCrtc(info.Crtcs, pending)
			if crtc == 0 {
				return nil, &ProtocolError{Request: fmt.Sprintf("no free crtc for output %s", o.Name)}
			}
			pending[crtc].outputs = append(pending[crtc].outputs, id)
		}

		mode, err := chooseRandrMode(o.Name, info, snap.modes, sel)
		if err != nil {
			return nil, err
		}

		st := pending[crtc]
		st.x = 0
		st.y = 0
		st.mode = mode
		emit(crtc)
	}

	return reqs, nil
}

// freeCrtc returns the first of the output's possible crtcs that no output
// will be holding by this point in the sequence.
func freeCrtc(possible []randr.Crtc, pending map[randr.Crtc]*crtcState) randr.Crtc {
	for _, crtc := range possible {
		if st, ok := pending[crtc]; ok && len(st.outputs) == 0 {
			return crtc
		}
	}
	return 0
}

// chooseRandrMode resolves the shared resolution to this output's concrete
// mode id, preferring the server-preferred mode and the highest refresh rate
// at that resolution. Without a shared resolution (or when the output cannot
// do it) the output falls back to its own preferred-or-best mode.
func chooseRandrMode(name string, info *randr.GetOutputInfoReply, modes map[uint32]randr.ModeInfo, sel *ModeSelection) (randr.Mode, error) {
	var candidates []modeCandidate
	for i, modeID := range info.Modes {
		mi, ok := modes[uint32(modeID)]
		if !ok {
			continue
		}
		candidates = append(candidates, modeCandidate{preferred: i < int(info.NumPreferred), mi: mi})
	}

	if sel != nil {
		best := -1
		for i, cand := range candidates {
			if !cand.preferred && !admissibleMode(&cand.mi) {
				continue
			}
			if modeResolution(&cand.mi) != sel.Resolution {
				continue
			}
			if best < 0 || betterRefresh(cand.preferred, modeRefreshmHz(&cand.mi),
				candidates[best].preferred, modeRefreshmHz(&candidates[best].mi)) {
				best = i
			}
		}
		if best >= 0 {
			return randr.Mode(candidates[best].mi.Id), nil
		}
	}

	best := -1
	for i, cand := range candidates {
		if best < 0 || betterMode(cand, candidates[best]) {
			best = i
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("output %s: %w", name, errNoUsableMode)
	}
	return randr.Mode(candidates[best].mi.Id), nil
}

type modeCandidate struct {
	preferred bool
	mi        randr.ModeInfo
}

func betterRefresh(aPref bool, aRefresh int, bPref bool, bRefresh int) bool {
	if aPref != bPref {
		return aPref
	}
	return aRefresh > bRefresh
}

func betterMode(a, b modeCandidate) bool {
	if a.preferred != b.preferred {
		return a.preferred
	}
	aRes, bRes := modeResolution(&a.mi), modeResolution(&b.mi)
	if aRes.Area() != bRes.Area() {
		return aRes.Area() > bRes.Area()
	}
	return modeRefreshmHz(&a.mi) > modeRefreshmHz(&b.mi)
}

func removeOutput(outputs []randr.Output, id randr.Output) []randr.Output {
	kept := outputs[:0]
	for _, o := range outputs {
		if o != id {
			kept = append(kept, o)
		}
	}
	return kept
}

func sameOutputs(a, b []randr.Output) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type screenSize struct {
	width, height     uint16
	mmWidth, mmHeight uint32
}

// computeScreenSize derives the framebuffer size from where the crtcs end up
// after the request sequence. Physical size comes from the largest attached
// output; outputs without dimensions fall back to 96 DPI.
func computeScreenSize(reqs []crtcRequest, snap *randrSnapshot) *screenSize {
	final := make(map[randr.Crtc]crtcState, len(snap.crtcs))
	for _, id := range snap.crtcs {
		info := snap.crtcInfo[id]
		final[id] = crtcState{x: info.X, y: info.Y, mode: info.Mode, outputs: info.Outputs}
	}
	for _, req := range reqs {
		final[req.crtc] = crtcState{x: req.x, y: req.y, mode: req.mode, outputs: req.outputs}
	}

	haveBox := false
	var minX, minY, maxX, maxY int
	var mmWidth, mmHeight uint32
	for _, st := range final {
		if st.mode == 0 {
			continue
		}
		mi, ok := snap.modes[uint32(st.mode)]
		if !ok {
			continue
		}
		left, top := int(st.x), int(st.y)
		right, bottom := left+int(mi.Width), top+int(mi.Height)
		if !haveBox {
			minX, minY, maxX, maxY = left, top, right, bottom
			haveBox = true
		} else {
			if left < minX {
				minX = left
			}
			if top < minY {
				minY = top
			}
			if right > maxX {
				maxX = right
			}
			if bottom > maxY {
				maxY = bottom
			}
		}
		for _, id := range st.outputs {
			info, ok := snap.outputInfo[id]
			if !ok {
				continue
			}
			if info.MmWidth > mmWidth {
				mmWidth = info.MmWidth
			}
			if info.MmHeight > mmHeight {
				mmHeight = info.MmHeight
			}
		}
	}
	if !haveBox {
		return nil
	}

	size := &screenSize{
		width:    uint16(maxX - minX),
		height:   uint16(maxY - minY),
		mmWidth:  mmWidth,
		mmHeight: mmHeight,
	}
	if size.mmWidth == 0 {
		size.mmWidth = pxToMM(size.width)
	}
	if size.mmHeight == 0 {
		size.mmHeight = pxToMM(size.height)
	}
	return size
}

func pxToMM(px uint16) uint32 {
	const dpi = 96.0
	const mmPerInch = 25.4
	return uint32(float64(px)/dpi*mmPerInch + 0.5)
}
