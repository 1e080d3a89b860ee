package testutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/repositories"
)

// Channels serves channels and listings from maps.
type Channels struct {
	ByID     map[uuid.UUID]*models.Channel
	Listings map[uuid.UUID]*models.ChannelListing
}

func NewChannels() *Channels {
	return &Channels{ByID: map[uuid.UUID]*models.Channel{}, Listings: map[uuid.UUID]*models.ChannelListing{}}
}

func (c *Channels) GetByID(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	ch, ok := c.ByID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (c *Channels) GetListing(_ context.Context, channelID uuid.UUID) (*models.ChannelListing, error) {
	l, ok := c.Listings[channelID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

type Campaigns struct {
	ByID         map[uuid.UUID]*models.Campaign
	Applications []*models.CampaignApplication
}

func NewCampaigns() *Campaigns {
	return &Campaigns{ByID: map[uuid.UUID]*models.Campaign{}}
}

func (c *Campaigns) GetByID(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	cm, ok := c.ByID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *cm
	return &cp, nil
}

func (c *Campaigns) GetApplication(_ context.Context, campaignID, channelID uuid.UUID) (*models.CampaignApplication, error) {
	for _, a := range c.Applications {
		if a.CampaignID == campaignID && a.ChannelID == channelID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

type Users struct {
	ByID map[uuid.UUID]*models.User
}

func NewUsers() *Users {
	return &Users{ByID: map[uuid.UUID]*models.User{}}
}

// Add registers a user with the given telegram id and returns its id.
func (u *Users) Add(telegramID int64) uuid.UUID {
	id := uuid.New()
	u.ByID[id] = &models.User{ID: id, TelegramUserID: telegramID}
	return id
}

func (u *Users) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	usr, ok := u.ByID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *usr
	return &cp, nil
}

func (u *Users) GetByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	for _, usr := range u.ByID {
		if usr.TelegramUserID == telegramID {
			cp := *usr
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

type Wallets struct {
	ByUser map[uuid.UUID]*models.UserWallet
}

func NewWallets() *Wallets {
	return &Wallets{ByUser: map[uuid.UUID]*models.UserWallet{}}
}

func (w *Wallets) Set(userID uuid.UUID, address string) {
	w.ByUser[userID] = &models.UserWallet{ID: uuid.New(), UserID: userID, Address: address, Verified: true, IsActive: true}
}

func (w *Wallets) GetActiveWallet(_ context.Context, userID uuid.UUID) (*models.UserWallet, error) {
	wl, ok := w.ByUser[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *wl
	return &cp, nil
}

type Withdraws struct {
	ByChannel map[uuid.UUID]*models.WithdrawWallet
}

func NewWithdraws() *Withdraws {
	return &Withdraws{ByChannel: map[uuid.UUID]*models.WithdrawWallet{}}
}

func (w *Withdraws) GetByChannel(_ context.Context, channelID uuid.UUID) (*models.WithdrawWallet, error) {
	ww, ok := w.ByChannel[channelID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *ww
	return &cp, nil
}
