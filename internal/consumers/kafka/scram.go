package kafka

import (
	"crypto/sha256"

	"github.com/xdg-go/scram"
)

var scramSHA256 scram.HashGeneratorFcn = sha256.New

// xdgSCRAMClient adapts github.com/xdg-go/scram to sarama.SCRAMClient,
// the only SASL mechanism this consumer's SASL user/password config
// enables.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (response string, err error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
