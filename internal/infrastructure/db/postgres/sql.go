package postgres

// Input tables are read over the half-open window [$1, $2).

const selectClicksSQL = `
SELECT customer_id, item_id, ts, session_id
FROM clicks
WHERE ts >= $1 AND ts < $2
ORDER BY ts, id
`

const selectCartAddsSQL = `
SELECT customer_id, item_id, ts, quantity
FROM cart_adds
WHERE ts >= $1 AND ts < $2
ORDER BY ts, id
`

const selectOrdersSQL = `
SELECT customer_id, item_id, ts, order_id, quantity
FROM orders
WHERE ts >= $1 AND ts < $2
ORDER BY ts, id
`

const selectImpressionsSQL = `
SELECT impression_id, customer_id, ts, item_ids, is_order
FROM impressions
WHERE ts >= $1 AND ts < $2
ORDER BY ts, impression_id
`

const deletePartitionSQL = `DELETE FROM training_rows WHERE dt = $1`

const trainingRowsTable = "training_rows"

var trainingRowsColumns = []string{
	"dt", "run_id", "impression_id", "customer_id", "item_id",
	"position", "ts", "is_order", "actions",
}
