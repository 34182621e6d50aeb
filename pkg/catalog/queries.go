package catalog

// GraphQL documents for the storefront Admin API. Variant and metafield
// page sizes are fixed: RMS products carry at most a few dozen size/color
// variants.

const productsWithoutTagQuery = `
query ProductsWithoutTag($query: String!, $first: Int!, $after: String) {
  products(first: $first, after: $after, query: $query) {
    edges {
      node {
        id
        title
        handle
        tags
        metafields(first: 20) {
          edges { node { namespace key value } }
        }
        variants(first: 100) {
          edges {
            node {
              id
              sku
              inventoryQuantity
              inventoryItem { id }
            }
          }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const setQuantitiesMutation = `
mutation SetOnHand($input: InventorySetOnHandQuantitiesInput!) {
  inventorySetOnHandQuantities(input: $input) {
    userErrors { field message }
  }
}`

const inventoryItemQuery = `
query InventoryItem($id: ID!) {
  inventoryItem(id: $id) {
    id
    inventoryLevels(first: 20) {
      edges {
        node {
          location { id }
          quantities(names: ["incoming"]) { name quantity }
        }
      }
    }
  }
}`

const deleteVariantMutation = `
mutation DeleteVariants($productId: ID!, $variantsIds: [ID!]!) {
  productVariantsBulkDelete(productId: $productId, variantsIds: $variantsIds) {
    userErrors { field message }
  }
}`

const productTagsQuery = `
query ProductTags($id: ID!) {
  product(id: $id) { id tags }
}`

const productUpdateTagsMutation = `
mutation UpdateTags($input: ProductInput!) {
  productUpdate(input: $input) {
    product { id tags }
    userErrors { field message }
  }
}`

const primaryLocationQuery = `
query PrimaryLocation {
  location { id }
}`
