// Package cryptol is a client for cryptol-remote-api.
//
// A Client owns one session with the server. Every call carries the state
// handle returned by the previous successful call, so loads, evaluations and
// proofs observe each other in the order they were issued:
//
//	c, err := cryptol.Connect(ctx, "http://localhost:8080/", cryptol.Config{})
//	if err != nil {
//		return err
//	}
//	defer c.Disconnect()
//	if err := c.LoadModule(ctx, "SuiteB"); err != nil {
//		return err
//	}
//	digest, err := c.Call(ctx, "sha384", cryptol.Opaque("0x0001"))
//
// Results are decoded into Value. Pass a Shape to Evaluate to have the
// answer checked against an expected structure; errors are *Error and
// match the Err* sentinels with errors.Is.
package cryptol
