package extproc

import (
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/protobuf/proto"
)

// Messages is the pair of requests sent on every Process stream.
type Messages struct {
	RequestHeaders  *extprocv3.ProcessingRequest
	ResponseHeaders *extprocv3.ProcessingRequest
}

// DefaultMessages returns the sample exchange: request headers then response
// headers, each carrying a single "test" header with an empty raw value.
func DefaultMessages() Messages {
	return Messages{
		RequestHeaders: &extprocv3.ProcessingRequest{
			Request: &extprocv3.ProcessingRequest_RequestHeaders{
				RequestHeaders: sampleHeaders(),
			},
		},
		ResponseHeaders: &extprocv3.ProcessingRequest{
			Request: &extprocv3.ProcessingRequest_ResponseHeaders{
				ResponseHeaders: sampleHeaders(),
			},
		},
	}
}

func sampleHeaders() *extprocv3.HttpHeaders {
	return &extprocv3.HttpHeaders{
		Headers: &corev3.HeaderMap{
			Headers: []*corev3.HeaderValue{
				{Key: "test", RawValue: []byte{}},
			},
		},
	}
}

// WithFixture replaces the message matching the fixture's phase.
func (m Messages) WithFixture(fixture *extprocv3.ProcessingRequest) (Messages, error) {
	switch fixture.GetRequest().(type) {
	case *extprocv3.ProcessingRequest_RequestHeaders:
		m.RequestHeaders = proto.Clone(fixture).(*extprocv3.ProcessingRequest)
	case *extprocv3.ProcessingRequest_ResponseHeaders:
		m.ResponseHeaders = proto.Clone(fixture).(*extprocv3.ProcessingRequest)
	default:
		return m, ErrFixtureHeaders
	}
	return m, nil
}
