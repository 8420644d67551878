package pmworker

import (
	"context"
	"log"
)

type noClients struct{}

func (noClients) MatchAll(context.Context) ([]Client, error) { return nil, nil }
func (noClients) Focus(context.Context, string) error        { return nil }
func (noClients) OpenWindow(_ context.Context, url string) (Client, error) {
	return Client{URL: url}, nil
}
func (noClients) PostMessage(context.Context, string, ClientMessage) error { return nil }
func (noClients) Claim(context.Context) error                              { return nil }

type logNotifier struct{}

func (logNotifier) Show(_ context.Context, n Notification) error {
	log.Printf("notification: tag=%q title=%q", n.Tag, n.Title)
	return nil
}

func (logNotifier) Close(context.Context, string) error { return nil }

type noBeacon struct{}

func (noBeacon) Send(context.Context, string, any) {}
