// Command b0bench is a small smoke-test pair: a provider node offers a
// "sum" service and publishes on a topic, a consumer node subscribes
// and calls the service, and the program reports whether every leg
// round-tripped. Used as a runnable example of the full node lifecycle
// and as an integration smoke test.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/b0platform/b0/bnode"
	"github.com/b0platform/b0/brt"
	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/pubsub"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type sumRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sumReply struct {
	C int `json:"c"`
}

func sumHandler(request []byte, contentType string) ([]byte, string, error) {
	var req sumRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, "", err
	}
	body, err := json.Marshal(sumReply{C: req.A + req.B})
	return body, "application/json", err
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	rt, err := brt.New(argv)
	if err != nil {
		if err == brt.ErrHelp {
			return 0
		}
		nlog.Errorf("argument error: %v", err)
		return 1
	}

	provider := bnode.New(rt, "b0bench-provider")
	pub := &bnode.PublisherChild{Topic: "bench"}
	srv := &bnode.ServerChild{Service: "sum", Handler: sumHandler}
	if err := provider.AddChild(pub); err != nil {
		nlog.Errorf("provider: add publisher: %v", err)
		return 2
	}
	if err := provider.AddChild(srv); err != nil {
		nlog.Errorf("provider: add server: %v", err)
		return 2
	}
	if err := provider.Init(rt.ResolverAddr); err != nil {
		nlog.Errorf("provider: init failed: %v", err)
		return 2
	}
	defer provider.Cleanup()

	consumer := bnode.New(rt, "b0bench-consumer")
	received := make(chan pubsub.Message, 1)
	sub := &bnode.SubscriberChild{Topic: "bench", Handler: func(m pubsub.Message) {
		select {
		case received <- m:
		default:
		}
	}}
	cli := &bnode.ClientChild{Service: "sum"}
	if err := consumer.AddChild(sub); err != nil {
		nlog.Errorf("consumer: add subscriber: %v", err)
		return 2
	}
	if err := consumer.AddChild(cli); err != nil {
		nlog.Errorf("consumer: add client: %v", err)
		return 2
	}
	if err := consumer.Init(rt.ResolverAddr); err != nil {
		nlog.Errorf("consumer: init failed: %v", err)
		return 2
	}
	defer consumer.Cleanup()

	nlog.Infof("b0bench: provider=%s consumer=%s", provider.Name, consumer.Name)

	// the two legs touch disjoint sockets (the subscriber mailbox vs.
	// the service client connection), so they can run concurrently
	var g errgroup.Group
	g.Go(func() error { return pubsubLeg(provider, pub, consumer, received) })
	g.Go(func() error { return serviceLeg(cli) })
	if err := g.Wait(); err != nil {
		fmt.Println("FAILED:", err)
		return 4
	}
	return 0
}

// pubsubLeg publishes once and polls the consumer node the way its own
// spin loop would, until the publication arrives or the leg times out.
func pubsubLeg(provider *bnode.Node, pub *bnode.PublisherChild, consumer *bnode.Node, received <-chan pubsub.Message) error {
	if err := pub.Pub.Publish(pub.Topic, []byte("hello"), "text/plain"); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := consumer.SpinOnce(); err != nil {
			return fmt.Errorf("spin_once: %w", err)
		}
		select {
		case msg := <-received:
			fmt.Printf("pubsub round trip: topic=%s payload=%s\n", msg.Topic, string(msg.Payload))
			return nil
		default:
			time.Sleep(10 * time.Millisecond)
		}
		// the broker may still be registering the subscriber's filter
		// when the first publish goes out; resend until delivered
		if err := pub.Pub.Publish(pub.Topic, []byte("hello"), "text/plain"); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	return fmt.Errorf("pubsub round trip timed out (provider=%s)", provider.Name)
}

func serviceLeg(cli *bnode.ClientChild) error {
	reqBody, err := json.Marshal(sumRequest{A: 100, B: 35})
	if err != nil {
		return err
	}
	respBody, _, err := cli.Cli.Call(reqBody, "application/json", "application/json")
	if err != nil {
		return fmt.Errorf("service call: %w", err)
	}
	var reply sumReply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return fmt.Errorf("service call: bad reply: %w", err)
	}
	fmt.Printf("service call: 100+35=%d\n", reply.C)
	if reply.C != 135 {
		return fmt.Errorf("service call: want 135, got %d", reply.C)
	}
	return nil
}
