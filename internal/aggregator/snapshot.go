package aggregator

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the derived operational state of one branch
type Snapshot struct {
	BranchID    string           `json:"branchId"`
	Kitchen     KitchenMetrics   `json:"kitchen"`
	Queue       QueueMetrics     `json:"queue"`
	Orders      OrderMetrics     `json:"orders"`
	Occupancy   OccupancyMetrics `json:"occupancy"`
	Employees   EmployeeMetrics  `json:"employees"`
	Sales       SalesMetrics     `json:"sales"`
	SLA         SLAMetrics       `json:"sla"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

type KitchenMetrics struct {
	Status             string  `json:"status"`
	ActiveOrders       int     `json:"activeOrders"`
	PendingOrders      int     `json:"pendingOrders"`
	CompletedToday     int     `json:"completedToday"`
	AvgPrepTimeMinutes float64 `json:"avgPrepTimeMinutes"`
}

type QueueMetrics struct {
	CurrentLength      int     `json:"currentLength"`
	AvgWaitTimeMinutes float64 `json:"avgWaitTimeMinutes"`
	ServedToday        int     `json:"servedToday"`
}

type OrderMetrics struct {
	TotalToday int `json:"totalToday"`
	Online     int `json:"online"`
	Offline    int `json:"offline"`
	DineIn     int `json:"dineIn"`
	Takeaway   int `json:"takeaway"`
	Delivery   int `json:"delivery"`
	Pending    int `json:"pending"`
	Completed  int `json:"completed"`
}

// OccupancyMetrics does not require occupied+available+reserved to equal
// TotalTables; a reservation is a soft hold.
type OccupancyMetrics struct {
	TotalTables int     `json:"totalTables"`
	Occupied    int     `json:"occupied"`
	Available   int     `json:"available"`
	Reserved    int     `json:"reserved"`
	Percentage  float64 `json:"percentage"`
}

type EmployeeMetrics struct {
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	OnBreak    int     `json:"onBreak"`
	Attendance float64 `json:"attendance"`
}

type SalesMetrics struct {
	Today        decimal.Decimal `json:"today"`
	ThisHour     decimal.Decimal `json:"thisHour"`
	Transactions int             `json:"transactions"`
	AvgTicket    decimal.Decimal `json:"avgTicket"`

	hourStart time.Time
}

type SLAMetrics struct {
	KitchenTargetMinutes  int      `json:"kitchenTargetMinutes"`
	ServiceTargetMinutes  int      `json:"serviceTargetMinutes"`
	DeliveryTargetMinutes int      `json:"deliveryTargetMinutes"`
	OverallSLA            int      `json:"overallSLA"`
	TotalBreaches         int      `json:"totalBreaches"`
	Breaches              []Breach `json:"breaches"`
}

// Breach records one completion that exceeded its SLA target
type Breach struct {
	Type              string    `json:"type"`
	OrderReference    string    `json:"orderReference"`
	ExceededByMinutes float64   `json:"exceededByMinutes"`
	Timestamp         time.Time `json:"timestamp"`
}

// Breach types
const (
	BreachKitchen  = "kitchen"
	BreachService  = "service"
	BreachDelivery = "delivery"
)

// BranchDefaults seeds a new snapshot with branch configuration
type BranchDefaults struct {
	TotalTables           int
	TotalEmployees        int
	KitchenTargetMinutes  int
	ServiceTargetMinutes  int
	DeliveryTargetMinutes int
}

func newSnapshot(branchID string, d BranchDefaults) *Snapshot {
	s := &Snapshot{
		BranchID: branchID,
		Sales: SalesMetrics{
			Today:     decimal.Zero,
			ThisHour:  decimal.Zero,
			AvgTicket: decimal.Zero,
		},
		SLA: SLAMetrics{Breaches: []Breach{}},
	}
	s.applyDefaults(d)
	s.recompute()
	return s
}

func (s *Snapshot) applyDefaults(d BranchDefaults) {
	s.Occupancy.TotalTables = floorZero(d.TotalTables)
	s.Employees.Total = floorZero(d.TotalEmployees)
	s.SLA.KitchenTargetMinutes = d.KitchenTargetMinutes
	s.SLA.ServiceTargetMinutes = d.ServiceTargetMinutes
	s.SLA.DeliveryTargetMinutes = d.DeliveryTargetMinutes
}

// recompute refreshes every derived field from its source counters
func (s *Snapshot) recompute() {
	s.Kitchen.Status = classifyKitchen(s.Kitchen.ActiveOrders, s.Kitchen.PendingOrders)

	s.Occupancy.Percentage = percentage(s.Occupancy.Occupied, s.Occupancy.TotalTables)

	s.Employees.Absent = floorZero(s.Employees.Total - s.Employees.Present - s.Employees.OnBreak)
	s.Employees.Attendance = percentage(s.Employees.Present+s.Employees.OnBreak, s.Employees.Total)

	if s.Sales.Transactions > 0 {
		s.Sales.AvgTicket = s.Sales.Today.Div(decimal.NewFromInt(int64(s.Sales.Transactions))).Round(2)
	} else {
		s.Sales.AvgTicket = decimal.Zero
	}

	completed := s.Kitchen.CompletedToday + s.Orders.Completed
	s.SLA.OverallSLA = slaCompliance(completed, s.SLA.TotalBreaches)
}

// addBreach appends to the breach log, evicting the oldest entry past capacity.
// TotalBreaches keeps counting evicted entries so compliance stays exact.
func (s *Snapshot) addBreach(b Breach, capacity int) {
	s.SLA.TotalBreaches++
	if capacity > 0 && len(s.SLA.Breaches) >= capacity {
		kept := make([]Breach, 0, capacity)
		kept = append(kept, s.SLA.Breaches[len(s.SLA.Breaches)-capacity+1:]...)
		s.SLA.Breaches = kept
	}
	s.SLA.Breaches = append(s.SLA.Breaches, b)
}

// addSale books a completed sale into the day and hour totals.
func (s *Snapshot) addSale(amount decimal.Decimal, at time.Time) {
	hour := at.Truncate(time.Hour)
	if hour.After(s.Sales.hourStart) {
		s.Sales.hourStart = hour
		s.Sales.ThisHour = decimal.Zero
	}
	s.Sales.Today = s.Sales.Today.Add(amount)
	if hour.Equal(s.Sales.hourStart) {
		s.Sales.ThisHour = s.Sales.ThisHour.Add(amount)
	}
	s.Sales.Transactions++
}

// resetDay zeroes the day-scoped counters and keeps live gauges such as
// open kitchen orders, queue length, occupancy and attendance.
func (s *Snapshot) resetDay() {
	s.Kitchen.CompletedToday = 0
	s.Kitchen.AvgPrepTimeMinutes = 0
	s.Queue.ServedToday = 0
	s.Queue.AvgWaitTimeMinutes = 0
	pending := s.Orders.Pending
	s.Orders = OrderMetrics{Pending: pending}
	s.Sales = SalesMetrics{Today: decimal.Zero, ThisHour: decimal.Zero, AvgTicket: decimal.Zero}
	s.SLA.TotalBreaches = 0
	s.SLA.Breaches = []Breach{}
	s.recompute()
}

func (s *Snapshot) clone() Snapshot {
	c := *s
	c.SLA.Breaches = make([]Breach, len(s.SLA.Breaches))
	copy(c.SLA.Breaches, s.SLA.Breaches)
	return c
}
