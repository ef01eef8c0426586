// Command callsim simulates one phone call against a running server: it posts
// the incoming-call webhook, dials the media stream URL from the TwiML
// response and streams mu-law audio frames at telephony pace. Assistant audio
// coming back is written to a file for listening.
package main

import (
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/siphio/phone-receptionist/server/internal/audio"
	"github.com/siphio/phone-receptionist/server/internal/websocket"
)

const frameBytes = 160 // 20ms of 8kHz mu-law

func main() {
	host := flag.String("host", "localhost:8080", "server host:port")
	from := flag.String("from", "+15550001111", "caller number")
	to := flag.String("to", "+15550002222", "dialed number")
	audioPath := flag.String("audio", "", "raw 8kHz mu-law file to stream; a tone is synthesized when empty")
	seconds := flag.Int("seconds", 5, "synthesized audio length when no file is given")
	output := flag.String("output", "response.pcm", "file for assistant audio (raw 8kHz 16-bit PCM)")
	flag.Parse()

	callSID := fmt.Sprintf("CA%d", time.Now().UnixNano())
	streamURL, err := placeCall(*host, callSID, *from, *to)
	if err != nil {
		log.Fatal("incoming-call webhook:", err)
	}
	log.Printf("📞 Call %s accepted, stream URL: %s", callSID, streamURL)

	payload, err := loadAudio(*audioPath, *seconds)
	if err != nil {
		log.Fatal("load audio:", err)
	}

	// The webhook hands back wss; local servers speak ws.
	dialURL := strings.Replace(streamURL, "wss://", "ws://", 1)
	c, _, err := gorilla.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()
	log.Printf("✅ Media stream connected")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go receiveResponses(c, *output, done)

	streamSID := "MZ" + callSID[2:]
	if err := sendCall(c, streamSID, payload, interrupt); err != nil {
		log.Println("stream:", err)
	}

	// Give the server a moment to flush its side, then close cleanly.
	_ = c.WriteMessage(gorilla.CloseMessage,
		gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
}

// placeCall posts the vendor-style webhook and extracts the stream URL from
// the returned TwiML.
func placeCall(host, callSID, from, to string) (string, error) {
	form := url.Values{}
	form.Set("CallSid", callSID)
	form.Set("From", from)
	form.Set("To", to)
	form.Set("CallStatus", "ringing")

	resp, err := http.PostForm("http://"+host+"/api/webhooks/incoming-call", form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var twiml struct {
		Connect struct {
			Stream struct {
				URL string `xml:"url,attr"`
			} `xml:"Stream"`
		} `xml:"Connect"`
	}
	if err := xml.Unmarshal(body, &twiml); err != nil {
		return "", err
	}
	if twiml.Connect.Stream.URL == "" {
		return "", fmt.Errorf("no stream URL in response: %s", string(body))
	}
	return twiml.Connect.Stream.URL, nil
}

// loadAudio returns mu-law bytes to stream: a raw file when given, otherwise
// a 440Hz tone so voice activity detection sees speech.
func loadAudio(path string, seconds int) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}

	samples := 8000 * seconds
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return audio.EncodeMuLaw(pcm), nil
}

func sendCall(c *gorilla.Conn, streamSID string, payload []byte, interrupt <-chan os.Signal) error {
	start, err := json.Marshal(websocket.Frame{
		Event: websocket.EventStart,
		Start: &websocket.StartPayload{StreamSID: streamSID},
	})
	if err != nil {
		return err
	}
	if err := c.WriteMessage(gorilla.TextMessage, start); err != nil {
		return err
	}

	frames := len(payload) / frameBytes
	log.Printf("📤 Streaming %d frames (%.1fs of audio)", frames, float64(frames)*0.02)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	sequence := 0
	for i := 0; i < frames; i++ {
		select {
		case <-interrupt:
			log.Println("interrupt")
			return sendStop(c)
		case <-ticker.C:
		}

		sequence++
		frame, err := json.Marshal(websocket.Frame{
			Event:          websocket.EventMedia,
			SequenceNumber: sequence,
			Media: &websocket.MediaPayload{
				Payload: base64.StdEncoding.EncodeToString(payload[i*frameBytes : (i+1)*frameBytes]),
			},
		})
		if err != nil {
			return err
		}
		if err := c.WriteMessage(gorilla.TextMessage, frame); err != nil {
			return err
		}
	}

	log.Printf("📤 Finished streaming, sending stop")
	return sendStop(c)
}

func sendStop(c *gorilla.Conn) error {
	stop, err := json.Marshal(websocket.Frame{Event: websocket.EventStop})
	if err != nil {
		return err
	}
	return c.WriteMessage(gorilla.TextMessage, stop)
}

// receiveResponses logs marks and writes assistant audio, decoded back to
// PCM, into the output file.
func receiveResponses(c *gorilla.Conn, output string, done chan struct{}) {
	defer close(done)

	var out *os.File
	chunks := 0
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if out != nil {
				out.Close()
				log.Printf("🎵 Received %d audio frames, output in %s", chunks, output)
			}
			return
		}

		frame, err := websocket.ParseFrame(message)
		if err != nil {
			log.Println("parse:", err)
			continue
		}

		switch frame.Event {
		case websocket.EventMedia:
			if frame.Media == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				log.Println("decode:", err)
				continue
			}
			if out == nil {
				if out, err = os.Create(output); err != nil {
					log.Println("create output:", err)
					return
				}
			}
			chunks++
			if _, err := out.Write(audio.DecodeMuLaw(mulaw)); err != nil {
				log.Println("write output:", err)
				return
			}
		case websocket.EventMark:
			if frame.Mark != nil {
				log.Printf("✅ Mark received: %s", frame.Mark.Name)
			}
		}
	}
}
