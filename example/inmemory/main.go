package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/RidgeA/postbus"
	"github.com/RidgeA/postbus/transport"
	"github.com/RidgeA/postbus/transport/inmemory"
)

func main() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	page := inmemory.New("https://host.example", inmemory.SetName("host"))
	frame := page.Embed("https://frame.example", inmemory.SetName("frame"))
	defer frame.Close()
	defer page.Close()

	host := postbus.NewHost(page)
	host.Attach(page.Handle(frame))

	host.OnInitMicroApp(func(d transport.Delivery) {
		fmt.Printf("frame from %s is ready\n", d.Origin)
	})

	host.On("upper", func(payload json.RawMessage, _ transport.Delivery) (json.RawMessage, error) {
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		return json.Marshal(strings.ToUpper(s))
	})

	host.OnNamespace("audit", "write", func(payload json.RawMessage, _ transport.Delivery) (json.RawMessage, error) {
		fmt.Printf("%s: host log: %s\n", time.Now().Format("15:04:05.999999"), payload)
		return nil, nil
	})

	if err := host.Initialize(postbus.Config{
		TargetOrigin:  "https://frame.example",
		AllowedOrigin: "https://frame.example",
		UseLogger:     postbus.Bool(true),
	}); err != nil {
		log.Fatal(err.Error())
	}

	embedded := postbus.NewEmbedded(frame, frame.Parent(), postbus.SetRequestTimeout(time.Second))
	embedded.On("theme", func(payload json.RawMessage, _ transport.Delivery) (json.RawMessage, error) {
		fmt.Printf("frame got theme %s\n", payload)
		return nil, nil
	})
	if err := embedded.Initialize(postbus.Config{TargetOrigin: "https://host.example"}); err != nil {
		log.Fatal(err.Error())
	}

	ask, err := transport.NewContent("upper", "hello!")
	if err != nil {
		log.Fatal(err.Error())
	}
	reply, err := embedded.Request(context.Background(), ask, "")
	if err != nil {
		log.Fatal(err.Error())
	}
	fmt.Printf("reply: %s\n", reply.Payload)

	write, _ := transport.NewContent("write", reply.Payload)
	if err := embedded.Emit(write, "audit"); err != nil {
		log.Fatal(err.Error())
	}

	theme, _ := transport.NewContent("theme", "dark")
	if err := host.Emit(theme); err != nil {
		log.Fatal(err.Error())
	}

	time.Sleep(100 * time.Millisecond)
}
