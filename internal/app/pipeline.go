package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/ayusman/lanefinder/internal/capture"
	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/ayusman/lanefinder/internal/pipeline"
	"github.com/ayusman/lanefinder/internal/plugin"
	"github.com/ayusman/lanefinder/internal/server"
	"github.com/ayusman/lanefinder/internal/store"
	"gocv.io/x/gocv"
)

// runPipeline is the frame loop. Frames are handled one at a time in
// source order, which the trackers depend on.
//
// Per frame:
// 1. Read the next frame; end of stream stops the loop cleanly
// 2. On a scene cut, reset both trackers before processing
// 3. Run the pipeline (or stop at the diagnostic stage)
// 4. Write the output to the sink and publish it to the hub
// 5. Record the lane result in the store
//
// Per-frame errors are logged and skipped. A shape mismatch on the first
// frame means the source does not match the configuration and ends the run.
func (a *App) runPipeline(ctx context.Context, sessionID string) error {
	for index := 0; ; index++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := a.config.Source.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				return nil
			}
			return fmt.Errorf("read frame %d: %w", index, err)
		}

		err = a.processFrame(sessionID, index, *frame)
		frame.Close()

		if err != nil {
			if index == 0 && errors.Is(err, pipeline.ErrShapeMismatch) {
				return err
			}
			log.Printf("Error processing frame %d: %v", index, err)
			a.mu.Lock()
			a.stats.Errors++
			a.mu.Unlock()
		}

		a.mu.Lock()
		a.stats.Frames++
		a.mu.Unlock()
	}
}

// processFrame runs one frame through the pipeline and hands the output to
// every configured consumer.
func (a *App) processFrame(sessionID string, index int, frame gocv.Mat) error {
	cut := a.detectSceneCut(frame, index)
	if cut {
		a.notify(plugin.Request{Event: plugin.EventSceneCut, SessionID: sessionID, Frame: index})
	}

	if a.config.Stage != nil {
		out, err := a.config.Pipeline.ProcessUntil(frame, *a.config.Stage)
		if err != nil {
			return err
		}
		defer out.Close()
		return a.emit(out)
	}

	res, err := a.config.Pipeline.Process(frame)
	if err != nil {
		return err
	}
	defer res.Close()

	if res.Geometry != nil {
		a.mu.Lock()
		a.stats.Detected++
		a.mu.Unlock()
	}
	a.notifyTransitions(sessionID, index, res)

	var errs []error
	errs = append(errs, a.emit(res.Frame))

	if a.config.Hub != nil {
		errs = append(errs, a.config.Hub.PublishLane(server.LaneUpdate{
			SessionID: sessionID,
			Frame:     index,
			Mode:      res.Mode,
			SceneCut:  cut,
			Geometry:  res.Geometry,
			Left:      res.Left,
			Right:     res.Right,
		}))
	}

	if sessionID != "" {
		if err := a.config.Store.Frames().Add(frameResult(sessionID, index, cut, res)); err != nil {
			errs = append(errs, fmt.Errorf("record frame: %w", err))
		}
	}

	return errors.Join(errs...)
}

// detectSceneCut resets the trackers when frame does not continue the
// previous one.
func (a *App) detectSceneCut(frame gocv.Mat, index int) bool {
	if a.config.SceneCut == nil {
		return false
	}
	cut, changed := a.config.SceneCut.Detect(frame)
	if !cut {
		return false
	}
	log.Printf("Scene cut at frame %d (%.0f%% changed), resetting trackers", index, changed*100)
	a.config.Pipeline.Reset()

	a.mu.Lock()
	a.stats.SceneCuts++
	a.mu.Unlock()
	return true
}

// notifyTransitions reports each side that was lost or acquired on this
// frame.
func (a *App) notifyTransitions(sessionID string, index int, res *pipeline.Result) {
	for _, side := range []struct {
		prev  *lane.State
		state lane.TrackState
	}{
		{&a.prevLeft, res.Left},
		{&a.prevRight, res.Right},
	} {
		prev, cur := *side.prev, side.state.State
		*side.prev = cur
		if prev == cur {
			continue
		}

		event := plugin.EventLaneAcquired
		if cur == lane.StateAcquiring {
			event = plugin.EventLaneLost
		}
		data, err := json.Marshal(side.state)
		if err != nil {
			data = nil
		}
		a.notify(plugin.Request{
			Event:     event,
			SessionID: sessionID,
			Frame:     index,
			Side:      side.state.Side,
			Data:      data,
		})
	}
}

// emit writes an output frame to the sink and the live stream.
func (a *App) emit(out gocv.Mat) error {
	var errs []error
	if a.config.Sink != nil {
		if err := a.config.Sink.WriteFrame(out); err != nil {
			errs = append(errs, fmt.Errorf("write frame: %w", err))
		}
	}
	if a.config.Hub != nil {
		if err := a.config.Hub.PublishFrame(out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// frameResult converts a pipeline result into its stored form.
func frameResult(sessionID string, index int, cut bool, res *pipeline.Result) *store.FrameResult {
	f := &store.FrameResult{
		SessionID:  sessionID,
		FrameIndex: index,
		Mode:       res.Mode.String(),
		SceneCut:   cut,
		Left:       sideResult(res.Left),
		Right:      sideResult(res.Right),
	}
	if g := res.Geometry; g != nil {
		f.Left.RadiusM = finite(g.LeftRadius)
		f.Right.RadiusM = finite(g.RightRadius)
		offset := g.OffsetMeters
		f.OffsetM = &offset
	}
	return f
}

func sideResult(s lane.TrackState) store.SideResult {
	return store.SideResult{
		State:    s.State.String(),
		Failures: s.Failures,
		Fit:      s.Current,
	}
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
