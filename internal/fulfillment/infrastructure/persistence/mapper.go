// internal/fulfillment/infrastructure/persistence/mapper.go
package persistence

import (
	"database/sql"
	"encoding/json"
	"time"

	"dropship/internal/fulfillment/domain"
)

// ToOrderModel 把领域订单转换为数据库模型
func ToOrderModel(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:                 o.ID,
		Marketplace:        o.Marketplace,
		MarketplaceOrderID: o.MarketplaceOrderID,
		OrderDate:          o.OrderDate,
		Status:             string(o.Status),
		TotalAmount:        o.TotalAmount,

		CustomerName:       o.Customer.Name,
		CustomerPhone:      o.Customer.Phone,
		CustomerEmail:      o.Customer.Email,
		CustomerPostalCode: o.Customer.PostalCode,
		CustomerAddress:    o.Customer.Address,
		CustomerMemo:       o.Customer.Memo,

		PaymentMethod:      o.Payment.Method,
		PaymentAmount:      o.Payment.Amount,
		PaymentShippingFee: o.Payment.ShippingFee,
		PaidAt:             toNullTime(o.Payment.PaidAt),

		DeliveryCarrier:   o.Delivery.Carrier,
		TrackingNumber:    o.Delivery.TrackingNumber,
		DeliveryStatus:    string(o.Delivery.Status),
		DeliveryUpdatedAt: toNullTime(o.Delivery.UpdatedAt),

		SupplierCode:      o.SupplierCode,
		SupplierOrderID:   o.SupplierOrderID,
		SupplierStatus:    string(o.SupplierStatus),
		SupplierOrderedAt: toNullTime(o.SupplierOrderedAt),

		LastError:       o.LastError,
		ForwardAttempts: o.ForwardAttempts,
		Raw:             o.Raw,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}

	if len(o.Delivery.Events) > 0 {
		// 轨迹序列化失败不应阻塞订单本身入库
		if data, err := json.Marshal(o.Delivery.Events); err == nil {
			m.DeliveryEvents = data
		}
	}

	for i := range o.Items {
		m.Items = append(m.Items, ToOrderItemModel(o.ID, &o.Items[i]))
	}
	return m
}

// ToOrderItemModel 把领域商品行转换为数据库模型
func ToOrderItemModel(orderID string, it *domain.OrderItem) OrderItemModel {
	return OrderItemModel{
		ID:                   it.ID,
		OrderID:              orderID,
		ProductID:            it.ProductID,
		MarketplaceProductID: it.MarketplaceProductID,
		SupplierProductID:    it.SupplierProductID,
		ProductName:          it.ProductName,
		Quantity:             it.Quantity,
		UnitPrice:            it.UnitPrice,
		TotalPrice:           it.TotalPrice,
		Discount:             it.Discount,
		Status:               string(it.Status),
	}
}

// ToDomainOrder 把数据库模型还原为领域订单
func ToDomainOrder(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:                 m.ID,
		Marketplace:        m.Marketplace,
		MarketplaceOrderID: m.MarketplaceOrderID,
		OrderDate:          m.OrderDate,
		Status:             domain.OrderStatus(m.Status),
		TotalAmount:        m.TotalAmount,
		Customer: domain.CustomerInfo{
			Name:       m.CustomerName,
			Phone:      m.CustomerPhone,
			Email:      m.CustomerEmail,
			PostalCode: m.CustomerPostalCode,
			Address:    m.CustomerAddress,
			Memo:       m.CustomerMemo,
		},
		Payment: domain.PaymentInfo{
			Method:      m.PaymentMethod,
			Amount:      m.PaymentAmount,
			ShippingFee: m.PaymentShippingFee,
			PaidAt:      fromNullTime(m.PaidAt),
		},
		Delivery: domain.DeliveryInfo{
			Carrier:        m.DeliveryCarrier,
			TrackingNumber: m.TrackingNumber,
			Status:         domain.DeliveryStatus(m.DeliveryStatus),
			UpdatedAt:      fromNullTime(m.DeliveryUpdatedAt),
		},
		SupplierCode:      m.SupplierCode,
		SupplierOrderID:   m.SupplierOrderID,
		SupplierStatus:    domain.SupplierStatus(m.SupplierStatus),
		SupplierOrderedAt: fromNullTime(m.SupplierOrderedAt),
		LastError:         m.LastError,
		ForwardAttempts:   m.ForwardAttempts,
		Raw:               m.Raw,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}

	if len(m.DeliveryEvents) > 0 {
		// 历史轨迹损坏时按空处理，下一次轮询会重建
		_ = json.Unmarshal(m.DeliveryEvents, &o.Delivery.Events)
	}

	for i := range m.Items {
		it := &m.Items[i]
		o.Items = append(o.Items, domain.OrderItem{
			ID:                   it.ID,
			ProductID:            it.ProductID,
			MarketplaceProductID: it.MarketplaceProductID,
			SupplierProductID:    it.SupplierProductID,
			ProductName:          it.ProductName,
			Quantity:             it.Quantity,
			UnitPrice:            it.UnitPrice,
			TotalPrice:           it.TotalPrice,
			Discount:             it.Discount,
			Status:               domain.OrderStatus(it.Status),
		})
	}
	return o
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}
