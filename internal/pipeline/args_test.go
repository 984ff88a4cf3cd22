package pipeline

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestTranscoderArgs_passthrough(t *testing.T) {
	spec, _ := Build(nil)
	args := TranscoderArgs(spec, Input{URL: "srt://0.0.0.0:9000?mode=listener"}, Output{Dir: "/out"})

	if v, _ := argValue(args, "-c:v"); v != "copy" {
		t.Errorf("-c:v = %q, want copy", v)
	}
	if _, ok := argValue(args, "-var_stream_map"); ok {
		t.Error("passthrough should not carry a variant map")
	}
	if last := args[len(args)-1]; last != filepath.Join("/out", "master.m3u8") {
		t.Errorf("output = %q", last)
	}
	if _, ok := argValue(args, "-listen"); ok {
		t.Error("SRT input must not use -listen")
	}
}

func TestTranscoderArgs_ladder(t *testing.T) {
	spec, _ := Build([]Request{{Width: 1280, Height: 720}, {Width: 854, Height: 480}})
	args := TranscoderArgs(spec, Input{URL: "rtmp://0.0.0.0:9001/live/k", Listen: true}, Output{Dir: "/out"})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-listen 1 -i rtmp://0.0.0.0:9001/live/k",
		"-map [v0] -map 0:a:0? -map [v1] -map 0:a:0?",
		"-b:v:0 2800k -b:v:1 1400k",
		"-b:a:0 128k -b:a:1 128k",
		"-hls_time 4",
		"-hls_flags independent_segments+append_list",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q:\n%s", want, joined)
		}
	}
	if v, _ := argValue(args, "-var_stream_map"); v != "v:0,a:0,name:stream_720p v:1,a:1,name:stream_480p" {
		t.Errorf("-var_stream_map = %q", v)
	}
	if last := args[len(args)-1]; last != filepath.Join("/out", "%v", "stream.m3u8") {
		t.Errorf("output = %q", last)
	}
}

func TestDRMTranscoderArgs(t *testing.T) {
	spec, _ := Build([]Request{{Width: 1280, Height: 720}, {Width: 640, Height: 360}})
	out := DRMOutput{Dir: "/out", UDPPorts: []int{20000, 20001}}

	args, err := DRMTranscoderArgs(spec, Input{URL: "srt://x"}, out)
	if err != nil {
		t.Fatalf("DRMTranscoderArgs: %v", err)
	}
	var tees []string
	for i, a := range args {
		if a == "-f" && args[i+1] == "tee" {
			tees = append(tees, args[i+2])
		}
	}
	if len(tees) != 2 {
		t.Fatalf("expected 2 tee outputs, got %d", len(tees))
	}
	if !strings.HasPrefix(tees[1], "[f=mpegts]udp://127.0.0.1:20001?pkt_size=1316|") {
		t.Errorf("tee[1] = %s", tees[1])
	}
	if !strings.HasSuffix(tees[0], filepath.Join("/out", ClearDirName, "stream_720p.m3u8")) {
		t.Errorf("tee[0] = %s", tees[0])
	}

	_, err = DRMTranscoderArgs(spec, Input{URL: "srt://x"}, DRMOutput{Dir: "/out", UDPPorts: []int{1}})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("port mismatch err = %v", err)
	}
	passthrough, _ := Build(nil)
	if _, err := DRMTranscoderArgs(passthrough, Input{}, out); !errors.Is(err, ErrValidation) {
		t.Errorf("passthrough err = %v", err)
	}
}

func TestPackagerArgs(t *testing.T) {
	spec, _ := Build([]Request{{Width: 1280, Height: 720}})
	args := PackagerArgs(PackagerJob{
		Rendition: spec.Renditions[0],
		UDPPort:   20000,
		Dir:       "/out",
		Encryption: Encryption{
			KeyID:            "00112233445566778899aabbccddeeff",
			Key:              "ffeeddccbbaa99887766554433221100",
			IV:               "0102030405060708090a0b0c0d0e0f10",
			PSSH:             "0000002470737368",
			ProtectionScheme: "CBCS",
		},
	})

	if !strings.HasPrefix(args[0], "in=udp://127.0.0.1:20000?reuse=1,stream=video,") {
		t.Errorf("video descriptor = %s", args[0])
	}
	if !strings.Contains(args[0], "playlist_name=stream.m3u8") {
		t.Errorf("video descriptor = %s", args[0])
	}
	if v, _ := argValue(args, "--keys"); v != "label=:key_id=00112233445566778899aabbccddeeff:key=ffeeddccbbaa99887766554433221100" {
		t.Errorf("--keys = %s", v)
	}
	if v, _ := argValue(args, "--protection_scheme"); v != "cbcs" {
		t.Errorf("--protection_scheme = %s", v)
	}
	if v, _ := argValue(args, "--hls_master_playlist_output"); v != filepath.Join("/out", "stream_720p", "variant.m3u8") {
		t.Errorf("--hls_master_playlist_output = %s", v)
	}
}

func TestSimulatorArgs(t *testing.T) {
	args := SimulatorArgs("/media/a.mp4", "rtmp://127.0.0.1:9000/live/k", "rtmp")
	if v, _ := argValue(args, "-f"); v != "flv" {
		t.Errorf("-f = %s", v)
	}
	if v, _ := argValue(args, "-stream_loop"); v != "-1" {
		t.Errorf("-stream_loop = %s", v)
	}
}
