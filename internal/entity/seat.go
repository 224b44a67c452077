package entity

// Seat identifies a player slot within a room, distinct from the underlying
// connection. Seats are canonical: the first connection ever assigned is
// SeatX regardless of later board flips. The client-visible label is derived
// via Label at the serialization boundary only.
type Seat string

const (
	SeatX Seat = "X"
	SeatO Seat = "O"

	SeatNone Seat = ""
)

func (that Seat) Opposite() Seat {
	if that == SeatX {
		return SeatO
	}
	return SeatX
}

// Label translates the canonical seat into the mark the client sees. After a
// completed rematch cycle the labels are swapped, so the previous second
// player holds the X label and moves first.
func (that Seat) Label(flipped bool) string {
	if flipped {
		return string(that.Opposite())
	}
	return string(that)
}

// SeatForLabel is the inverse of Label.
func SeatForLabel(label string, flipped bool) Seat {
	seat := Seat(label)
	if flipped {
		return seat.Opposite()
	}
	return seat
}
