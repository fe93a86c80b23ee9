// Command go-client calls the voicechat-service generation endpoint and saves the audio.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/httpserver"
	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/bytedance/sonic"
)

// Flag names.
const (
	flagHost           = "host"
	flagText           = "text"
	flagFile           = "file"
	flagTemperature    = "temperature"
	flagVoiceRefs      = "voice-refs"
	flagRefInSystem    = "ref-in-system"
	flagChunkMethod    = "chunk-method"
	flagSeed           = "seed"
	flagPersona        = "persona"
	flagEmotion        = "emotion"
	flagRateWPM        = "rate-wpm"
	flagPitchSemitones = "pitch-semitones"
	flagEnergy         = "energy"
	flagPauseComma     = "pause-comma"
	flagPausePeriod    = "pause-period"
	flagPauseParagraph = "pause-paragraph"
	flagMode           = "mode"
	flagOut            = "out"
	flagFilename       = "filename"
	flagTimeout        = "timeout"
	flagHealth         = "health"
)

// Flag defaults.
const (
	defaultHost           = "http://localhost:8000"
	defaultTemperature    = 0.35
	defaultPauseComma     = 200
	defaultPausePeriod    = 400
	defaultPauseParagraph = 800
	defaultOut            = "client.wav"
	defaultTimeoutSeconds = 1200
	healthTimeout         = 10 * time.Second
	outputPermissions     = 0o600
	logFileName           = "voicechat-client.log"
)

// Exit codes.
const (
	exitUsage   = 1
	exitRequest = 2
	exitAudio   = 3
)

// Error and output messages.
const (
	errEitherTextOrFile  = "either --text or --file must be provided"
	errFmtReadFile       = "failed to read file %s: %w"
	errFmtRequestFailed  = "request failed: %w"
	errFmtServerStatus   = "server returned %d: %s"
	errFmtUnknownMode    = "unknown --mode %q (want base64 or url)"
	errNoAudioBase64     = "no audio_base64 in response"
	errNoAudioURL        = "no audio_url in response"
	errFmtDownloadFailed = "failed to download audio: %w"
	errFmtWriteFailed    = "failed to write %s: %w"
	outFmtNote           = "Note: %s\n"
	outFmtSaved          = "Saved audio to %s\n"
	outFmtHealth         = "Service is healthy: %s\n"
	logFmtRequest        = "POST %s (mode=%s, transcript=%d bytes)"
)

var (
	errUsage    = errors.New(errEitherTextOrFile)
	errNoAudio  = errors.New("response carried no audio")
	errBadReply = errors.New("unexpected server reply")
)

// clientFlags holds the parsed command-line flag values.
type clientFlags struct {
	host           string
	text           string
	file           string
	voiceRefs      string
	chunkMethod    string
	persona        string
	emotion        string
	mode           string
	out            string
	filename       string
	seed           int
	rateWPM        int
	pauseComma     int
	pausePeriod    int
	pauseParagraph int
	timeoutSeconds int
	temperature    float64
	pitchSemitones float64
	energy         float64
	seedSet        bool
	pitchSet       bool
	refInSystem    bool
	health         bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, parseErr := parseFlags(args, stderr)
	if parseErr != nil {
		return exitUsage
	}

	log, logErr := logger.New(os.TempDir(), logFileName)
	if logErr != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", logErr)

		return exitUsage
	}
	defer log.Close()

	client := &http.Client{Timeout: time.Duration(flags.timeoutSeconds) * time.Second}
	ctx := context.Background()

	if flags.health {
		healthErr := checkHealth(ctx, client, flags.host, stdout)
		if healthErr != nil {
			fmt.Fprintln(stderr, healthErr)

			return exitRequest
		}

		return 0
	}

	request, buildErr := buildRequest(flags, os.ReadFile)
	if buildErr != nil {
		fmt.Fprintln(stderr, buildErr)

		return exitUsage
	}

	log.Info(logFmtRequest, flags.host, flags.mode, len(request.Transcript))

	response, generateErr := generate(ctx, client, flags.host, request)
	if generateErr != nil {
		log.Error("%v", generateErr)
		fmt.Fprintln(stderr, generateErr)

		return exitRequest
	}

	for _, note := range response.Notes {
		fmt.Fprintf(stdout, outFmtNote, note)
	}

	saveErr := saveAudio(ctx, client, response, flags.mode, flags.out)
	if saveErr != nil {
		log.Error("%v", saveErr)
		fmt.Fprintln(stderr, saveErr)

		return exitAudio
	}

	fmt.Fprintf(stdout, outFmtSaved, flags.out)

	return 0
}

// parseFlags defines and parses command-line flags on a private flag set.
func parseFlags(args []string, output io.Writer) (clientFlags, error) {
	var flags clientFlags

	flagSet := flag.NewFlagSet("go-client", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.StringVar(&flags.host, flagHost, defaultHost, "Server host, e.g. http://localhost:8000")
	flagSet.StringVar(&flags.text, flagText, "", "Transcript text to synthesize")
	flagSet.StringVar(&flags.file, flagFile, "", "Read transcript from file instead of --text")
	flagSet.Float64Var(&flags.temperature, flagTemperature, defaultTemperature, "Sampling temperature")
	flagSet.StringVar(&flags.voiceRefs, flagVoiceRefs, "", "Comma-separated list of voice references")
	flagSet.BoolVar(&flags.refInSystem, flagRefInSystem, false, "Include voice refs in system message")
	flagSet.StringVar(&flags.chunkMethod, flagChunkMethod, "", "Chunking method: auto, paragraph, sentence, speaker")
	flagSet.IntVar(&flags.seed, flagSeed, 0, "Random seed for deterministic generation")
	flagSet.StringVar(&flags.persona, flagPersona, "", "Speaker persona description")
	flagSet.StringVar(&flags.emotion, flagEmotion, "", "Emotional tone, e.g. happy or excited")
	flagSet.IntVar(&flags.rateWPM, flagRateWPM, 0, "Speaking rate in words per minute")
	flagSet.Float64Var(&flags.pitchSemitones, flagPitchSemitones, 0, "Pitch offset in semitones")
	flagSet.Float64Var(&flags.energy, flagEnergy, 0, "Energy level (0.5-2.0)")
	flagSet.IntVar(&flags.pauseComma, flagPauseComma, defaultPauseComma, "Pause after comma in ms")
	flagSet.IntVar(&flags.pausePeriod, flagPausePeriod, defaultPausePeriod, "Pause after period in ms")
	flagSet.IntVar(&flags.pauseParagraph, flagPauseParagraph, defaultPauseParagraph, "Pause between paragraphs in ms")
	flagSet.StringVar(&flags.mode, flagMode, tts.ReturnURL, "Return mode: base64 or url")
	flagSet.StringVar(&flags.out, flagOut, defaultOut, "Output path for the audio")
	flagSet.StringVar(&flags.filename, flagFilename, "", "Preferred filename on the server")
	flagSet.IntVar(&flags.timeoutSeconds, flagTimeout, defaultTimeoutSeconds, "Request timeout in seconds")
	flagSet.BoolVar(&flags.health, flagHealth, false, "Check service health and exit")

	parseErr := flagSet.Parse(args)
	if parseErr != nil {
		return flags, parseErr
	}

	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case flagSeed:
			flags.seedSet = true
		case flagPitchSemitones:
			flags.pitchSet = true
		}
	})

	if flags.mode != tts.ReturnBase64 && flags.mode != tts.ReturnURL {
		parseErr = fmt.Errorf(errFmtUnknownMode, flags.mode)
		fmt.Fprintln(output, parseErr)

		return flags, parseErr
	}

	return flags, nil
}

// buildRequest assembles the generation payload. Style is sent only when a style flag
// was set or a pause differs from its default.
func buildRequest(flags clientFlags, readFile func(string) ([]byte, error)) (httpserver.GenerateRequest, error) {
	transcript := flags.text

	if flags.file != "" {
		data, readErr := readFile(flags.file)
		if readErr != nil {
			return httpserver.GenerateRequest{}, fmt.Errorf(errFmtReadFile, flags.file, readErr)
		}

		transcript = string(data)
	}

	if transcript == "" {
		return httpserver.GenerateRequest{}, errUsage
	}

	temperature := flags.temperature
	request := httpserver.GenerateRequest{
		Temperature:             &temperature,
		Transcript:              transcript,
		ChunkMethod:             flags.chunkMethod,
		Persona:                 flags.persona,
		ReturnAudio:             flags.mode,
		Filename:                flags.filename,
		RefAudioInSystemMessage: flags.refInSystem,
		Style:                   buildStyle(flags),
	}

	if flags.voiceRefs != "" {
		request.VoiceRefs = strings.Split(flags.voiceRefs, ",")
	}

	if flags.seedSet {
		seed := flags.seed
		request.Seed = &seed
	}

	return request, nil
}

func buildStyle(flags clientFlags) *tts.StyleSpec {
	pausesChanged := flags.pauseComma != defaultPauseComma ||
		flags.pausePeriod != defaultPausePeriod ||
		flags.pauseParagraph != defaultPauseParagraph

	if flags.emotion == "" && flags.rateWPM == 0 && !flags.pitchSet && flags.energy == 0 && !pausesChanged {
		return nil
	}

	comma, period, paragraph := flags.pauseComma, flags.pausePeriod, flags.pauseParagraph
	style := &tts.StyleSpec{
		PauseMS: &tts.PauseSpec{Comma: &comma, Period: &period, Paragraph: &paragraph},
	}

	if flags.emotion != "" {
		emotion := flags.emotion
		style.Emotion = &emotion
	}

	if flags.rateWPM != 0 {
		rate := flags.rateWPM
		style.RateWPM = &rate
	}

	if flags.pitchSet {
		pitch := flags.pitchSemitones
		style.PitchSemitones = &pitch
	}

	if flags.energy != 0 {
		energy := flags.energy
		style.Energy = &energy
	}

	return style
}

// generate posts the request and decodes the response, surfacing the server's error
// detail on failure.
func generate(
	ctx context.Context,
	client *http.Client,
	host string,
	request httpserver.GenerateRequest,
) (httpserver.GenerateResponse, error) {
	var response httpserver.GenerateResponse

	body, marshalErr := sonic.Marshal(request)
	if marshalErr != nil {
		return response, fmt.Errorf(errFmtRequestFailed, marshalErr)
	}

	endpoint := strings.TrimSuffix(host, "/") + "/generate"

	httpRequest, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if requestErr != nil {
		return response, fmt.Errorf(errFmtRequestFailed, requestErr)
	}

	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, doErr := client.Do(httpRequest)
	if doErr != nil {
		return response, fmt.Errorf(errFmtRequestFailed, doErr)
	}
	defer httpResponse.Body.Close()

	payload, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return response, fmt.Errorf(errFmtRequestFailed, readErr)
	}

	if httpResponse.StatusCode != http.StatusOK {
		return response, fmt.Errorf("%w: "+errFmtServerStatus, errBadReply, httpResponse.StatusCode, string(payload))
	}

	unmarshalErr := sonic.Unmarshal(payload, &response)
	if unmarshalErr != nil {
		return response, fmt.Errorf(errFmtRequestFailed, unmarshalErr)
	}

	return response, nil
}

// saveAudio writes the base64 payload or downloads the URL to out.
func saveAudio(
	ctx context.Context,
	client *http.Client,
	response httpserver.GenerateResponse,
	mode, out string,
) error {
	var audioBytes []byte

	switch mode {
	case tts.ReturnBase64:
		if response.AudioBase64 == "" {
			return fmt.Errorf("%w: %s", errNoAudio, errNoAudioBase64)
		}

		decoded, decodeErr := base64.StdEncoding.DecodeString(response.AudioBase64)
		if decodeErr != nil {
			return fmt.Errorf("%w: %w", errNoAudio, decodeErr)
		}

		audioBytes = decoded
	default:
		if response.AudioURL == "" {
			return fmt.Errorf("%w: %s", errNoAudio, errNoAudioURL)
		}

		downloaded, downloadErr := download(ctx, client, response.AudioURL)
		if downloadErr != nil {
			return fmt.Errorf(errFmtDownloadFailed, downloadErr)
		}

		audioBytes = downloaded
	}

	writeErr := os.WriteFile(out, audioBytes, outputPermissions)
	if writeErr != nil {
		return fmt.Errorf(errFmtWriteFailed, out, writeErr)
	}

	return nil
}

func download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if requestErr != nil {
		return nil, requestErr
	}

	response, doErr := client.Do(request)
	if doErr != nil {
		return nil, doErr
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errBadReply, response.StatusCode)
	}

	return io.ReadAll(response.Body)
}

func checkHealth(ctx context.Context, client *http.Client, host string, stdout io.Writer) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	body, err := download(healthCtx, client, strings.TrimSuffix(host, "/")+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Fprintf(stdout, outFmtHealth, strings.TrimSpace(string(body)))

	return nil
}
