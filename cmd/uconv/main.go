// Command uconv drives the partitioned convolution engine over raw
// interleaved float32 PCM read from stdin and written to stdout, with an
// optional interactive TUI and web UI for tuning wet/dry mix and swapping
// filters while audio is flowing.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"uconv/dsp"
	"uconv/web"
)

// Audio configuration.
var (
	channels   = 2     // Stereo (modify for 5.1, etc.)
	sampleRate = 48000 // Sample rate of the PCM stream on stdin/stdout
)

// Convolution reverb instance, driving one partconv.Engine per channel.
var reverb *dsp.ConvolutionReverb

// processAudioBuffer applies the dry-path mix to an interleaved buffer
// in place. It exists for unit/integration testing of the mixing plumbing
// without needing a real audio stream; real processing goes through
// runAudioLoop, which calls reverb.ProcessBlock per channel.
func processAudioBuffer(audio []float32) {
	if reverb == nil {
		return
	}

	if len(audio)%channels != 0 {
		return
	}

	samplesPerChannel := len(audio) / channels

	for i := range samplesPerChannel {
		for ch := range channels {
			index := i*channels + ch
			audio[index] = reverb.ProcessSample(audio[index], ch)
		}
	}
}

// runAudioLoop reads interleaved little-endian float32 PCM from r in
// blockFrames-sized chunks, runs it through the reverb's per-channel
// convolution engines, and writes the result to w. It returns when r is
// exhausted or an I/O error occurs.
func runAudioLoop(ctx context.Context, r io.Reader, w io.Writer, blockFrames int) error {
	reader := bufio.NewReaderSize(r, blockFrames*channels*4*4)
	writer := bufio.NewWriterSize(w, blockFrames*channels*4*4)
	defer writer.Flush()

	raw := make([]byte, blockFrames*channels*4)
	interleaved := make([]float32, blockFrames*channels)

	inCh := make([][]float32, channels)
	outCh := make([][]float32, channels)
	for ch := range inCh {
		inCh[ch] = make([]float32, blockFrames)
		outCh[ch] = make([]float32, blockFrames)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := io.ReadFull(reader, raw)
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			return nil
		}
		frames := n / (channels * 4)
		if frames == 0 {
			if err != nil && err != io.EOF {
				return err
			}
			return nil
		}

		for i := 0; i < frames*channels; i++ {
			interleaved[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}

		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				inCh[ch][i] = interleaved[i*channels+ch]
			}
		}

		for ch := 0; ch < channels; ch++ {
			reverb.ProcessBlock(inCh[ch][:frames], outCh[ch][:frames], ch)
		}

		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				interleaved[i*channels+ch] = outCh[ch][i]
			}
		}

		for i := 0; i < frames*channels; i++ {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(interleaved[i]))
		}

		if _, werr := writer.Write(raw[:frames*channels*4]); werr != nil {
			return werr
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
	}
}

func main() {
	filterFile := flag.String("filter", "", "Path to filter library file (.irlib); any other path loads the synthetic filter")
	filterLibrary := flag.String("filter-library", "", "Path to filter library file (.irlib)")
	filterName := flag.String("filter-name", "", "Name of filter to load from library")
	filterIndex := flag.Int("filter-index", 0, "Index of filter to load from library (default: 0)")
	listFilters := flag.Bool("list-filters", false, "List available filters in the library and exit")
	wetLevel := flag.Float64("wet", 0.3, "Wet (filtered) level (0.0-1.0)")
	dryLevel := flag.Float64("dry", 0.7, "Dry (direct) level (0.0-1.0)")
	noTUI := flag.Bool("no-tui", false, "Disable interactive TUI")
	latency := flag.Int("latency", 256, "Processing latency in samples (64, 128, 256, or 512)")
	webPort := flag.Int("port", 8080, "Web server port")
	noBrowser := flag.Bool("no-browser", false, "Don't auto-open browser")
	noWeb := flag.Bool("no-web", false, "Disable web server")
	logFile := flag.String("log", "uconv.log", "Log file path")
	showHelp := flag.Bool("help", false, "Show this help message")

	flag.Parse()

	if *showHelp {
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("uconv - uniformly partitioned convolution engine")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("=================================================")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("\nReads interleaved float32 PCM from stdin, filters it, writes to stdout.")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("\nUsage: uconv [options] < input.pcm > output.pcm")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("\nExamples:")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("  uconv -filter-library ./filters.irlib < in.pcm > out.pcm")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("  uconv -filter-library ./filters.irlib -filter-name \"4kHz lowpass\"")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("  uconv -filter-library ./filters.irlib -list-filters")
		//nolint:forbidigo // CLI help output requires fmt.Println
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *listFilters {
		libraryPath := *filterLibrary
		if libraryPath == "" {
			libraryPath = *filterFile
		}
		if libraryPath == "" {
			//nolint:forbidigo // CLI error output
			fmt.Println("ERROR: -list-filters requires -filter-library or -filter")
			os.Exit(1)
		}

		entries, err := dsp.ListLibraryIRs(libraryPath)
		if err != nil {
			//nolint:forbidigo // CLI error output
			fmt.Printf("ERROR: Failed to read filter library: %v\n", err)
			os.Exit(1)
		}

		//nolint:forbidigo // CLI output
		fmt.Printf("Available filters in %s:\n\n", libraryPath)
		for i, entry := range entries {
			channelStr := "mono"
			if entry.Channels == 2 {
				channelStr = "stereo"
			} else if entry.Channels > 2 {
				channelStr = fmt.Sprintf("%dch", entry.Channels)
			}
			//nolint:forbidigo // CLI output
			fmt.Printf("  %3d: %-30s (category: %s, %.0fHz, %s, %.2fs)\n",
				i, entry.Name, entry.Category, entry.SampleRate, channelStr, entry.Duration())
		}
		os.Exit(0)
	}

	file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		//nolint:forbidigo // error output before logging is initialized
		fmt.Printf("Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)
	slog.Info("Starting uconv", "args", os.Args)

	reverb = dsp.NewConvolutionReverb(float64(sampleRate), channels)
	slog.Info("Engine initialized", "defaultSampleRate", sampleRate, "channels", channels)

	var blockOrder int
	switch *latency {
	case 64:
		blockOrder = 6
	case 128:
		blockOrder = 7
	case 256:
		blockOrder = 8
	case 512:
		blockOrder = 9
	default:
		if *latency <= 96 {
			blockOrder = 6
		} else if *latency <= 192 {
			blockOrder = 7
		} else if *latency <= 384 {
			blockOrder = 8
		} else {
			blockOrder = 9
		}
		slog.Warn("Invalid latency value, using closest valid", "requested", *latency, "actual", 1<<blockOrder)
	}
	reverb.SetLatency(blockOrder)
	slog.Info("Latency configured", "samples", 1<<blockOrder)

	switch {
	case *filterLibrary != "":
		if err := reverb.LoadImpulseResponseFromLibrary(*filterLibrary, *filterName, *filterIndex); err != nil {
			slog.Error("Failed to load filter from library", "library", *filterLibrary, "name", *filterName, "index", *filterIndex, "error", err)
			//nolint:forbidigo // critical error output to user
			fmt.Printf("ERROR: Failed to load filter: %v\n", err)
			os.Exit(1)
		}
		slog.Info("Filter loaded from library", "library", *filterLibrary, "name", *filterName, "index", *filterIndex)
	case *filterFile != "":
		if err := reverb.LoadImpulseResponse(*filterFile); err != nil {
			slog.Error("Failed to load filter", "file", *filterFile, "error", err)
			//nolint:forbidigo // critical error output to user
			fmt.Printf("ERROR: Failed to load filter: %v\n", err)
			os.Exit(1)
		}
		slog.Info("Filter loaded", "file", *filterFile)
	default:
		// No filter supplied: fall back to the synthetic decay filter so
		// the engine is always usable out of the box.
		if err := reverb.LoadImpulseResponse(""); err != nil {
			slog.Error("Failed to load synthetic filter", "error", err)
			//nolint:forbidigo // critical error output to user
			fmt.Printf("ERROR: Failed to load synthetic filter: %v\n", err)
			os.Exit(1)
		}
		slog.Info("Synthetic fallback filter loaded")
	}

	reverb.SetWetLevel(*wetLevel)
	reverb.SetDryLevel(*dryLevel)
	slog.Info("Parameters configured")

	var filterList []dsp.IRIndexEntry
	var filterLibraryData []byte
	if *filterLibrary != "" {
		if data, err := os.ReadFile(*filterLibrary); err == nil {
			filterLibraryData = data
			filterList, _ = dsp.ListLibraryIRsFromReader(bytes.NewReader(data))
		}
	}

	var webServer *web.Server
	if !*noWeb {
		webFilterList := make([]web.IREntry, len(filterList))
		for i, entry := range filterList {
			webFilterList[i] = web.IREntry{
				Index:      i,
				Name:       entry.Name,
				Category:   entry.Category,
				SampleRate: entry.SampleRate,
				Channels:   entry.Channels,
				Samples:    entry.Length,
				Duration:   entry.Duration(),
			}
		}

		webServer = web.NewServer(reverb, filterLibraryData, nil, *webPort, *filterIndex, *filterName)
		webServer.SetIRList(webFilterList)
		reverb.AddStateListener(webServer)

		go func() {
			slog.Info("Starting web server", "port", *webPort)
			if err := webServer.Start(); err != nil {
				slog.Error("Web server error", "error", err)
			}
		}()

		if !*noBrowser {
			time.Sleep(200 * time.Millisecond)
			go func() {
				url := fmt.Sprintf("http://localhost:%d", *webPort)
				if err := web.OpenBrowser(url); err != nil {
					slog.Error("Failed to open browser", "error", err)
				}
			}()
		}

		//nolint:forbidigo // startup message
		fmt.Printf("Web UI available at http://localhost:%d\n", *webPort)
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		slog.Info("Starting audio loop", "blockFrames", 1<<blockOrder)
		if err := runAudioLoop(ctx, os.Stdin, os.Stdout, 1<<blockOrder); err != nil {
			slog.Error("Audio loop error", "error", err)
		}
		slog.Info("Audio loop finished")
		cancel()
	}()

	if *noTUI {
		//nolint:forbidigo // headless mode startup message
		fmt.Println("Starting uconv...")
		//nolint:forbidigo // headless mode startup message
		fmt.Println("TUI disabled. Running in headless mode.")
		//nolint:forbidigo // headless mode startup message
		fmt.Println("Log file:", *logFile)
		<-ctx.Done()
	} else {
		runTUI(reverb, filterLibraryData, filterList, *filterIndex)
		slog.Info("TUI exited, stopping audio loop")
		cancel()
	}

	if webServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Web server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}
