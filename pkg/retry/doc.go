// Package retry runs a request-style operation with a per-attempt timeout and a bounded
// number of retries.
//
// Subscriptions use it for initial-value requests:
//
//	img, err := retry.DoWithResult(ctx, retry.ForRequest(timeout, retries),
//	    func(ctx context.Context) (*message.Msg, error) {
//	        return requester.RequestInitial(ctx, subject)
//	    })
//
// Errors classified as invalid or fatal by the errors package stop the loop at once;
// anything else is retried after an exponential pause.
package retry
