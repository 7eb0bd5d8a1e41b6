// Copyright ©2020 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package mqtt is not an Integration as it is too central to the core operation
// of the service for other Integrations to manage its lifecycle.
package mqtt

import (
	"fmt"
	"log"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const outboundQueueLen = 100

// MessageT is the type of messages sent and received via the service's MQTT channels.
type MessageT struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  interface{}
}

// MQTT wraps a single broker connection and the topic subscriptions made against it.
// Call sites hold a *MQTT (see the Tuya MQTT sink's t.mq.Publish) rather
// than reaching into package-level state.
type MQTT struct {
	client      paho.Client
	publishChan chan MessageT
	mu          sync.Mutex
	subscribers map[string][]chan MessageT
}

// Start connects to the broker and returns the channel other components should
// publish outgoing messages to. A nil return means the broker is unavailable;
// callers should treat MQTT as an optional sink and carry on without it.
func (m *MQTT) Start(broker string, port int, clientID string) chan MessageT {
	m.subscribers = make(map[string][]chan MessageT)

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port))
	opts.SetClientID(clientID)
	opts.OnConnect = func(paho.Client) {
		log.Println("DEBUG: MQTT Connected to Broker")
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		log.Printf("WARNING: MQTT Connection lost: %v", err)
	}
	opts.SetDefaultPublishHandler(m.dispatch)

	m.client = paho.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("WARNING: MQTT could not connect to %s:%d - %s\n", broker, port, token.Error())
		return nil
	}

	m.publishChan = make(chan MessageT, outboundQueueLen)
	go m.publishLoop()
	return m.publishChan
}

func (m *MQTT) dispatch(client paho.Client, msg paho.Message) {
	m.mu.Lock()
	chans := m.subscribers[msg.Topic()]
	m.mu.Unlock()
	for _, ch := range chans {
		ch <- MessageT{Topic: msg.Topic(), Qos: msg.Qos(), Retained: msg.Retained(), Payload: msg.Payload()}
	}
}

func (m *MQTT) publishLoop() {
	for msg := range m.publishChan {
		m.client.Publish(msg.Topic, msg.Qos, msg.Retained, msg.Payload)
	}
}

// Publish queues a message for delivery to the broker. A no-op if MQTT never connected.
func (m *MQTT) Publish(msg MessageT) {
	if m.publishChan == nil {
		return
	}
	m.publishChan <- msg
}

// SubscribeToTopic subscribes to topic and returns a channel of received messages.
func (m *MQTT) SubscribeToTopic(topic string) chan MessageT {
	ch := make(chan MessageT, outboundQueueLen)
	m.mu.Lock()
	m.subscribers[topic] = append(m.subscribers[topic], ch)
	m.mu.Unlock()
	if m.client != nil {
		token := m.client.Subscribe(topic, 1, nil)
		token.Wait()
	}
	return ch
}

// UnsubscribeFromTopic removes ch from the set of subscribers for topic.
func (m *MQTT) UnsubscribeFromTopic(topic string, ch chan MessageT) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chans := m.subscribers[topic]
	var remaining []chan MessageT
	for _, c := range chans {
		if c != ch {
			remaining = append(remaining, c)
		}
	}
	m.subscribers[topic] = remaining
}
