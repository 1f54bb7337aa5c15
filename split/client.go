package split

import (
	"fmt"
	"io"
	"time"

	"sqnxt/core/ckkswrapper"
	"sqnxt/models"
	"sqnxt/tensor"
	"sqnxt/utils"
)

// Client runs the trunk of a model locally and sends encrypted features to
// a Server for classification.
type Client struct {
	model *models.SqueezeNext
	he    *ckkswrapper.HeContext
	conn  io.ReadWriteCloser
	p     *Protocol
	next  int

	// Stats accumulates per-stage timings across Classify calls.
	Stats utils.TimingStats
}

func NewClient(conn io.ReadWriteCloser, model *models.SqueezeNext, he *ckkswrapper.HeContext) (*Client, error) {
	if slots := he.Params.MaxSlots(); model.FeatureDim() > slots {
		return nil, fmt.Errorf("feature dimension %d exceeds %d slots", model.FeatureDim(), slots)
	}
	return &Client{model: model, he: he, conn: conn, p: NewProtocol(conn, conn)}, nil
}

// ServerKit generates the evaluation keys the server needs for this
// model's classifier.
func (c *Client) ServerKit() *ckkswrapper.ServerKit {
	return c.he.GenServerKit(c.model.Classifier().Rotations())
}

// Classify returns (N, numClasses) logits for x of shape (N, 3, H, W). The
// classifier runs on the server over one ciphertext per sample.
func (c *Client) Classify(x *tensor.Tensor) (*tensor.Tensor, error) {
	start := time.Now()
	feats, err := c.model.Features(x)
	if err != nil {
		return nil, fmt.Errorf("trunk: %w", err)
	}
	start = utils.Since(&c.Stats.TrunkTime, start)

	n, dim := feats.Shape[0], feats.Shape[1]
	classes := c.model.Classifier().OutDim()
	out := tensor.New(n, classes)
	for i := 0; i < n; i++ {
		ct, err := c.he.EncryptVector(feats.Data[i*dim : (i+1)*dim])
		if err != nil {
			return nil, fmt.Errorf("sample %d: encrypt: %w", i, err)
		}
		payload, err := NewCipherPayload(c.next, ct, dim)
		if err != nil {
			return nil, err
		}
		c.next++
		start = utils.Since(&c.Stats.EncryptionTime, start)

		if err := c.p.SendFeatures(payload); err != nil {
			return nil, fmt.Errorf("sample %d: send: %w", i, err)
		}
		reply, err := c.p.ReceiveLogits()
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if reply.SampleID != payload.SampleID || reply.Dim != classes {
			return nil, fmt.Errorf("sample %d: unexpected reply for sample %d with %d values", i, reply.SampleID, reply.Dim)
		}
		start = utils.Since(&c.Stats.ServerLinearTime, start)

		ctOut, err := reply.Unmarshal(c.he.Params)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		logits, err := c.he.DecryptVector(ctOut, classes)
		if err != nil {
			return nil, fmt.Errorf("sample %d: decrypt: %w", i, err)
		}
		copy(out.Data[i*classes:], logits)
		start = utils.Since(&c.Stats.DecryptionTime, start)
	}
	return out, nil
}

// Close tells the server the session is over and closes the stream.
func (c *Client) Close() error {
	err := c.p.SendDone()
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
