package repositories

import (
	"context"
	"database/sql"

	"sacco/internal/domain/models"
)

const parcelSelect = `
	SELECT id, ref_code, sender_name, sender_phone, receiver_name, receiver_phone,
	       origin_name, destination_name, price, status, payment_status, created_by
	FROM parcels
	WHERE id = ?`

func (r *Queries) GetParcel(ctx context.Context, id int64) (models.Parcel, error) {
	return r.getParcel(ctx, parcelSelect, id)
}

func (r *Queries) GetParcelForUpdate(ctx context.Context, id int64) (models.Parcel, error) {
	return r.getParcel(ctx, parcelSelect+` FOR UPDATE`, id)
}

func (r *Queries) getParcel(ctx context.Context, query string, id int64) (models.Parcel, error) {
	var (
		p         models.Parcel
		createdBy sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.RefCode,
		&p.SenderName,
		&p.SenderPhone,
		&p.ReceiverName,
		&p.ReceiverPhone,
		&p.Origin,
		&p.Destination,
		&p.Price,
		&p.Status,
		&p.PaymentStatus,
		&createdBy,
	)
	if err != nil {
		return models.Parcel{}, notFound("parcel", err)
	}
	p.CreatedBy = createdBy.Int64
	return p, nil
}

func (r *Queries) UpdateParcelStatus(ctx context.Context, id int64, status, paymentStatus string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE parcels SET status = ?, payment_status = ? WHERE id = ?`, status, paymentStatus, id)
	if err != nil {
		return err
	}
	return requireRow(res, "parcel")
}
