package service

import (
	"context"

	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) Insert(ctx context.Context, row models.MessageRow) (*models.MessageRow, error) {
	args := m.Called(ctx, row)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageRow), args.Error(1)
}

func (m *mockMessageStore) Update(ctx context.Context, id string, patch models.MessagePatch) (*models.MessageRow, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageRow), args.Error(1)
}

func (m *mockMessageStore) Select(ctx context.Context, conversationID string, p Pagination) ([]models.MessageRow, error) {
	args := m.Called(ctx, conversationID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MessageRow), args.Error(1)
}

type mockReceiptStore struct {
	mock.Mock
}

func (m *mockReceiptStore) UpsertDelivery(ctx context.Context, receipt models.DeliveryReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *mockReceiptStore) UpsertRead(ctx context.Context, receipt models.ReadReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *mockReceiptStore) ClearRead(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *mockReceiptStore) DeliveryReceipts(ctx context.Context, conversationID string) ([]models.DeliveryReceipt, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DeliveryReceipt), args.Error(1)
}

func (m *mockReceiptStore) ReadReceipts(ctx context.Context, conversationID string) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ReadReceipt), args.Error(1)
}

type mockPolicy struct {
	mock.Mock
}

func (m *mockPolicy) CheckBlockStatus(ctx context.Context, selfID, otherID string) (models.BlockStatus, error) {
	args := m.Called(ctx, selfID, otherID)
	return args.Get(0).(models.BlockStatus), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
