package main

import (
	"fmt"
	"math"
	"time"

	"github.com/nsf/termbox-go"
	"uconv/dsp"
)

const (
	colDef     = termbox.ColorDefault
	colWhite   = termbox.ColorWhite
	colRed     = termbox.ColorRed
	colGreen   = termbox.ColorGreen
	colYellow  = termbox.ColorYellow
	colBlue    = termbox.ColorBlue
	colCyan    = termbox.ColorCyan
	colMagenta = termbox.ColorMagenta
)

type TUIState struct {
	selectedParam int
	reverb        *dsp.ConvolutionReverb
	exit          bool

	// Filter library data
	filterLibraryData []byte             // Embedded filter library bytes
	filterList        []dsp.IRIndexEntry // List of available filters
	currentIdx        int                // Currently loaded filter index
	currentName       string             // Currently loaded filter name
	browseMode        bool               // True when browsing the filter list
	browseIdx         int                // Index in the filter browser
}

var paramNames = []string{
	"Filter",
	"Wet Level (0-1)",
	"Dry Level (0-1)",
}

func runTUI(reverb *dsp.ConvolutionReverb, filterLibraryData []byte, filterList []dsp.IRIndexEntry, initialIdx int) {
	err := termbox.Init()
	if err != nil {
		//nolint:forbidigo // TUI initialization error requires direct output
		fmt.Printf("Failed to initialize TUI: %v\n", err)
		return
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	initialName := ""
	if initialIdx >= 0 && initialIdx < len(filterList) {
		initialName = filterList[initialIdx].Name
	}

	state := &TUIState{
		reverb:            reverb,
		filterLibraryData: filterLibraryData,
		filterList:        filterList,
		currentIdx:        initialIdx,
		currentName:       initialName,
		browseIdx:         initialIdx,
	}

	eventQueue := make(chan termbox.Event)

	go func() {
		for {
			eventQueue <- termbox.PollEvent()
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	draw(state)

	for !state.exit {
		select {
		case ev := <-eventQueue:
			switch ev.Type {
			case termbox.EventKey:
				handleKey(ev, state)
			case termbox.EventResize:
				draw(state)
			}
		case <-ticker.C:
			draw(state)
		}
	}
}

func handleKey(ev termbox.Event, s *TUIState) {
	// Handle filter browse mode separately
	if s.browseMode {
		handleBrowseKey(ev, s)
		return
	}

	if ev.Key == termbox.KeyEsc || ev.Ch == 'q' {
		s.exit = true
		return
	}

	// Navigation
	switch ev.Key {
	case termbox.KeyArrowUp:
		s.selectedParam--
		if s.selectedParam < 0 {
			s.selectedParam = len(paramNames) - 1
		}
	case termbox.KeyArrowDown:
		s.selectedParam++
		if s.selectedParam >= len(paramNames) {
			s.selectedParam = 0
		}
	}

	// Adjustment
	switch s.selectedParam {
	case 0: // Filter - enter browse mode on left/right or Enter
		if ev.Key == termbox.KeyArrowRight || ev.Key == termbox.KeyArrowLeft || ev.Key == termbox.KeyEnter {
			s.browseMode = true
			s.browseIdx = s.currentIdx
		}
	case 1: // Wet Level
		change := 0.0
		if ev.Key == termbox.KeyArrowRight {
			change = 0.05
		}

		if ev.Key == termbox.KeyArrowLeft {
			change = -0.05
		}

		if change != 0 {
			s.reverb.SetWetLevel(s.reverb.GetWetLevel() + change)
		}
	case 2: // Dry Level
		change := 0.0
		if ev.Key == termbox.KeyArrowRight {
			change = 0.05
		}

		if ev.Key == termbox.KeyArrowLeft {
			change = -0.05
		}

		if change != 0 {
			s.reverb.SetDryLevel(s.reverb.GetDryLevel() + change)
		}
	}
}

func handleBrowseKey(ev termbox.Event, s *TUIState) {
	switch ev.Key {
	case termbox.KeyEsc:
		// Cancel browsing, revert to current filter
		s.browseMode = false
		s.browseIdx = s.currentIdx
	case termbox.KeyEnter:
		// Load the selected filter
		if s.browseIdx != s.currentIdx && len(s.filterLibraryData) > 0 {
			name, err := s.reverb.SwitchIR(s.filterLibraryData, s.browseIdx)
			if err == nil {
				s.currentIdx = s.browseIdx
				s.currentName = name
			}
		}
		s.browseMode = false
	case termbox.KeyArrowUp:
		s.browseIdx--
		if s.browseIdx < 0 {
			s.browseIdx = len(s.filterList) - 1
		}
	case termbox.KeyArrowDown:
		s.browseIdx++
		if s.browseIdx >= len(s.filterList) {
			s.browseIdx = 0
		}
	case termbox.KeyPgup:
		s.browseIdx -= 10
		if s.browseIdx < 0 {
			s.browseIdx = 0
		}
	case termbox.KeyPgdn:
		s.browseIdx += 10
		if s.browseIdx >= len(s.filterList) {
			s.browseIdx = len(s.filterList) - 1
		}
	}
}

func draw(state *TUIState) {
	_ = termbox.Clear(colDef, colDef)

	// Check if we're in filter browse mode
	if state.browseMode {
		drawBrowser(state)
		return
	}

	// Header
	printTB(0, 0, colCyan, colDef, "uconv - partitioned convolution engine")
	printTB(0, 1, colWhite, colDef, "Sample Rate: 48000 Hz")
	printTB(0, 2, colDef, colDef, "Use Arrows to navigate/adjust. 'q' or Esc to quit.")
	printTB(0, 3, colDef, colDef, "----------------------------------------------------")

	// Parameters
	displayName := state.currentName
	if displayName == "" {
		displayName = "(none)"
	}
	if len(displayName) > 30 {
		displayName = displayName[:27] + "..."
	}

	vals := []string{
		displayName,
		fmt.Sprintf("%.2f", state.reverb.GetWetLevel()),
		fmt.Sprintf("%.2f", state.reverb.GetDryLevel()),
	}

	for i, name := range paramNames {
		col := colWhite
		bgColor := colDef
		prefix := "  "

		if i == state.selectedParam {
			col = colDef       // Black usually if bg is white
			bgColor = colWhite // Highlight
			prefix = "> "
		}

		line := fmt.Sprintf("%-22s %s", prefix+name, vals[i])
		printTB(0, 5+i, col, bgColor, line)

		// Add hint for the filter parameter
		if i == 0 && i == state.selectedParam {
			printTB(len(line)+2, 5+i, colYellow, colDef, "[Enter to browse]")
		}
	}

	// Metering
	meterY := 11
	printTB(0, meterY, colYellow, colDef, "Meters:")

	// Convert linear to dB for display
	linToDB := func(l float32) float64 {
		if l <= 1e-9 {
			return -96.0
		}
		return 20 * math.Log10(float64(l))
	}

	// Get metrics from reverb
	inL, outL, revL := state.reverb.GetMetrics(0)
	inR, outR, revR := state.reverb.GetMetrics(1)

	inLdB := linToDB(inL)
	inRdB := linToDB(inR)
	outLdB := linToDB(outL)
	outRdB := linToDB(outR)
	revLdB := linToDB(revL)
	revRdB := linToDB(revR)

	drawMeter(meterY+2, "In L ", inLdB, colGreen)
	drawMeter(meterY+3, "In R ", inRdB, colGreen)

	drawMeter(meterY+5, "Eng L", revLdB, colRed)
	drawMeter(meterY+6, "Eng R", revRdB, colRed)

	drawMeter(meterY+8, "Out L", outLdB, colBlue)
	drawMeter(meterY+9, "Out R", outRdB, colBlue)

	termbox.Flush()
}

func drawBrowser(state *TUIState) {
	w, h := termbox.Size()

	// Header
	printTB(0, 0, colMagenta, colDef, "Select Filter")
	printTB(0, 1, colDef, colDef, "Use Up/Down to browse, PgUp/PgDn for fast scroll")
	printTB(0, 2, colDef, colDef, "Enter to select, Esc to cancel")
	printTB(0, 3, colDef, colDef, "─────────────────────────────────────────────────────────────────")

	// Calculate visible range
	listStartY := 5
	listHeight := h - listStartY - 2
	if listHeight < 5 {
		listHeight = 5
	}

	// Scroll to keep selected item visible
	scrollOffset := 0
	if state.browseIdx >= listHeight {
		scrollOffset = state.browseIdx - listHeight + 1
	}

	// Draw filter list
	for i := 0; i < listHeight && scrollOffset+i < len(state.filterList); i++ {
		idx := scrollOffset + i
		entry := state.filterList[idx]

		col := colWhite
		bgColor := colDef
		prefix := "  "

		if idx == state.browseIdx {
			col = colDef
			bgColor = colWhite
			prefix = "> "
		}

		// Mark the current filter
		suffix := ""
		if idx == state.currentIdx {
			suffix = " [current]"
		}

		// Format: "  3: Low-pass 4k (Lowpass, 48kHz, stereo, 2.5s)"
		channelStr := "mono"
		if entry.Channels == 2 {
			channelStr = "stereo"
		} else if entry.Channels > 2 {
			channelStr = fmt.Sprintf("%dch", entry.Channels)
		}

		name := entry.Name
		maxNameLen := 25
		if len(name) > maxNameLen {
			name = name[:maxNameLen-3] + "..."
		}

		line := fmt.Sprintf("%s%3d: %-25s (%s, %.0fkHz, %s, %.1fs)%s",
			prefix, idx, name, entry.Category, entry.SampleRate/1000, channelStr, entry.Duration(), suffix)

		// Truncate to screen width
		if len(line) > w-1 {
			line = line[:w-1]
		}

		printTB(0, listStartY+i, col, bgColor, line)
	}

	// Footer with scroll indicator
	if len(state.filterList) > listHeight {
		scrollInfo := fmt.Sprintf("Showing %d-%d of %d",
			scrollOffset+1, min(scrollOffset+listHeight, len(state.filterList)), len(state.filterList))
		printTB(0, h-1, colYellow, colDef, scrollInfo)
	}

	termbox.Flush()
}

func drawMeter(yPos int, label string, db float64, color termbox.Attribute) {
	const (
		barWidth = 60
		xPos     = 2
		minDB    = -96.0
		maxDB    = 6.0
	)

	if db < minDB {
		db = minDB
	}

	if db > maxDB {
		db = maxDB
	}

	ratio := (db - minDB) / (maxDB - minDB)
	filled := int(ratio * float64(barWidth))

	printTB(xPos, yPos, colDef, colDef, fmt.Sprintf("%s [%-6.1f dB] ", label, db))

	// Draw bar
	startX := xPos + 15

	for i := range barWidth {
		var barChar rune
		bgCol := colDef

		if i < filled {
			barChar = '█'
		} else {
			barChar = '░'
		}

		termbox.SetCell(startX+i, yPos, barChar, color, bgCol)
	}
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x++
	}
}
