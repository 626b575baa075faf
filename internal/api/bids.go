package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/wire"
)

// FetchBids returns the confirmed bid history of an auction.
func (c *Client) FetchBids(ctx context.Context, auctionID string) ([]model.Entry, error) {
	path := "/auction/cars/" + auctionID + "/bids/"
	body, err := c.doWithRetry(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch bids %s: %w", auctionID, err)
	}

	bids, err := listOf[wire.Bid](body)
	if err != nil {
		return nil, fmt.Errorf("fetch bids %s: %w", auctionID, err)
	}

	entries := make([]model.Entry, 0, len(bids))
	for _, b := range bids {
		if b.ID == "" {
			continue
		}
		entries = append(entries, b.Entry())
	}
	return entries, nil
}

// PlaceBid submits a bid. The returned entry carries token so it reconciles
// with the provisional entry shown while the request was in flight.
func (c *Client) PlaceBid(ctx context.Context, auctionID string, amount model.Amount, token string) (model.Entry, error) {
	req := placeBidRequest{Car: model.ID(auctionID), Amount: amount, Token: token}

	var bid wire.Bid
	if err := c.post(ctx, "/auction/bids/create/", req, &bid); err != nil {
		return model.Entry{}, fmt.Errorf("place bid %s: %w", auctionID, err)
	}
	if bid.ID == "" {
		return model.Entry{}, fmt.Errorf("place bid %s: response carries no bid id", auctionID)
	}
	if bid.Token == "" {
		bid.Token = token
	}
	return bid.Entry(), nil
}
